// cmd/agent/cmd/sos/create.go
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
	createLat float64
	createLon float64
)

var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Создать SOS запрос",
	Long: `Создает запрос о помощи в указанной точке. У устройства может быть
только один активный запрос; между созданиями действует окно охлаждения.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cmd.Context().Value("app").(*agent.App)
		if app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}
		defer app.Close()

		m, err := app.SOS().CreateRequest(cmd.Context(), app.DeviceID(),
			geo.Point{Lat: createLat, Lon: createLon})
		switch {
		case errors.Is(err, sosDomain.ErrCooldownActive):
			return fmt.Errorf("слишком рано: окно охлаждения после прошлого запроса еще не истекло")
		case errors.Is(err, sosDomain.ErrActiveRequestExists):
			return fmt.Errorf("у устройства уже есть активный запрос; завершите его: safemesh sos complete <id>")
		case err != nil:
			return fmt.Errorf("ошибка создания запроса: %w", err)
		}

		color.Red("SOS создан: %s", m.ID)
		fmt.Println("Запрос будет виден остальным после синхронизации")
		return nil
	},
}

func init() {
	CreateCmd.Flags().Float64Var(&createLat, "lat", 0, "широта")
	CreateCmd.Flags().Float64Var(&createLon, "lon", 0, "долгота")

	CreateCmd.MarkFlagRequired("lat")
	CreateCmd.MarkFlagRequired("lon")
}
