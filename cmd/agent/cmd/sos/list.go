// cmd/agent/cmd/sos/list.go
package sos

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"safemesh/internal/app/agent"
	sosDomain "safemesh/internal/domain/sos"
	"safemesh/internal/geo"
)

var (
	nearLat float64
	nearLon float64
	nearby  bool
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список активных SOS запросов",
	Long: `Показывает активные запросы о помощи. С флагом --nearby показывает
только запросы в радиусе близости от указанной точки, исключая
собственные и отклоненные.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cmd.Context().Value("app").(*agent.App)
		if app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}
		defer app.Close()

		markers, err := listMarkers(cmd, app)
		if err != nil {
			return err
		}

		if len(markers) == 0 {
			fmt.Println("Активных запросов нет")
			return nil
		}

		fmt.Printf("Активных запросов: %d\n\n", len(markers))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tШИРОТА\tДОЛГОТА\tСОЗДАН")

		for _, m := range markers {
			created := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04")
			fmt.Fprintf(w, "%s\t%.5f\t%.5f\t%s\n", m.ID[:8], m.Latitude, m.Longitude, created)
		}

		return w.Flush()
	},
}

func listMarkers(cmd *cobra.Command, app *agent.App) ([]sosDomain.Marker, error) {
	if nearby {
		return app.SOS().Nearby(cmd.Context(), app.DeviceID(),
			geo.Point{Lat: nearLat, Lon: nearLon})
	}
	return app.Storage().ListActiveSOS(cmd.Context())
}

func init() {
	ListCmd.Flags().BoolVar(&nearby, "nearby", false, "только запросы рядом с точкой")
	ListCmd.Flags().Float64Var(&nearLat, "lat", 0, "широта для --nearby")
	ListCmd.Flags().Float64Var(&nearLon, "lon", 0, "долгота для --nearby")
}
