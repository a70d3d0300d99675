// cmd/agent/cmd/marker/vote.go
package marker

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"safemesh/internal/app/agent"
	markerDomain "safemesh/internal/domain/marker"
)

var disagree bool

var VoteCmd = &cobra.Command{
	Use:   "vote <marker-id>",
	Short: "Проголосовать за маркер",
	Long: `Подтверждает ("маркер еще актуален") или опровергает маркер.
Каждое устройство голосует за маркер один раз; за собственные маркеры
голосовать нельзя.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cmd.Context().Value("app").(*agent.App)
		if app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}
		defer app.Close()

		vt := markerDomain.VoteAgree
		if disagree {
			vt = markerDomain.VoteDisagree
		}

		err := app.Storage().CastVote(cmd.Context(), args[0], app.DeviceID(), vt)
		switch {
		case errors.Is(err, markerDomain.ErrNotFound):
			return fmt.Errorf("маркер не найден: %s", args[0])
		case errors.Is(err, markerDomain.ErrOwnMarker):
			return fmt.Errorf("нельзя голосовать за собственный маркер")
		case errors.Is(err, markerDomain.ErrAlreadyVoted):
			return fmt.Errorf("это устройство уже голосовало за маркер")
		case err != nil:
			return fmt.Errorf("ошибка голосования: %w", err)
		}

		m, err := app.Storage().GetMarker(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("ошибка получения маркера: %w", err)
		}

		color.Green("Голос учтен")
		fmt.Printf("Уверенность: %d%% (+%d/-%d)\n", m.ConfidenceScore, m.Agrees, m.Disagrees)
		return nil
	},
}

func init() {
	VoteCmd.Flags().BoolVar(&disagree, "disagree", false, "опровергнуть маркер вместо подтверждения")
}
