// cmd/agent/cmd/sos/respond.go
package sos

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"safemesh/internal/app/agent"
	sosDomain "safemesh/internal/domain/sos"
	"safemesh/internal/geo"
)

var (
	respondLat float64
	respondLon float64
)

var RespondCmd = &cobra.Command{
	Use:   "respond <sos-id>",
	Short: "Откликнуться на SOS запрос",
	Long: `Регистрирует отклик этого устройства на чужой активный запрос.
Устройство может активно помогать только по одному запросу; на один
запрос принимается ограниченное число откликов.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cmd.Context().Value("app").(*agent.App)
		if app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}
		defer app.Close()

		r, err := app.SOS().RespondTo(cmd.Context(), args[0], app.DeviceID(),
			geo.Point{Lat: respondLat, Lon: respondLon})
		switch {
		case errors.Is(err, sosDomain.ErrNotFound):
			return fmt.Errorf("запрос не найден: %s", args[0])
		case errors.Is(err, sosDomain.ErrNotActive):
			return fmt.Errorf("запрос уже не активен")
		case errors.Is(err, sosDomain.ErrResponderBusy):
			return fmt.Errorf("устройство уже помогает по другому запросу")
		case errors.Is(err, sosDomain.ErrAlreadyResponded):
			return fmt.Errorf("устройство уже откликнулось на этот запрос")
		case errors.Is(err, sosDomain.ErrCapacityReached):
			return fmt.Errorf("на запрос уже откликнулось максимальное число устройств")
		case err != nil:
			return fmt.Errorf("ошибка отклика: %w", err)
		}

		color.Green("Отклик зарегистрирован")
		fmt.Printf("Расстояние: %.0f м, пешком ~%d мин\n", r.DistanceMeters, r.ETAMinutes)
		return nil
	},
}

func init() {
	RespondCmd.Flags().Float64Var(&respondLat, "lat", 0, "текущая широта")
	RespondCmd.Flags().Float64Var(&respondLon, "lon", 0, "текущая долгота")

	RespondCmd.MarkFlagRequired("lat")
	RespondCmd.MarkFlagRequired("lon")
}
