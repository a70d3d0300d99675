// cmd/agent/cmd/sos/complete.go
package sos

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"safemesh/internal/app/agent"
	sosDomain "safemesh/internal/domain/sos"
)

var CompleteCmd = &cobra.Command{
	Use:   "complete <sos-id>",
	Short: "Завершить собственный SOS запрос",
	Long: `Завершает запрос о помощи. Доступно только создателю; все активные
отклики на запрос отменяются.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cmd.Context().Value("app").(*agent.App)
		if app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}
		defer app.Close()

		err := app.SOS().CompleteRequest(cmd.Context(), args[0], app.DeviceID())
		switch {
		case errors.Is(err, sosDomain.ErrNotFound):
			return fmt.Errorf("запрос не найден: %s", args[0])
		case errors.Is(err, sosDomain.ErrNotCreator):
			return fmt.Errorf("завершить запрос может только его создатель")
		case errors.Is(err, sosDomain.ErrNotActive):
			return fmt.Errorf("запрос уже завершен")
		case err != nil:
			return fmt.Errorf("ошибка завершения запроса: %w", err)
		}

		color.Green("Запрос завершен")
		return nil
	},
}
