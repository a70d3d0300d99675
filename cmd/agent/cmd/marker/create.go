// cmd/agent/cmd/marker/create.go
package marker

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"safemesh/internal/app/agent"
	markerDomain "safemesh/internal/domain/marker"
)

var (
	createType    string
	createLat     float64
	createLon     float64
	createTitle   string
	createDesc    string
	createRadiusM float64
)

var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Создать маркер",
	Long: `Создает маркер от имени этого устройства. Создатель неявно
голосует "за", поэтому новый маркер начинает с уверенностью 100.

Маркер сохраняется локально и уходит в общее хранилище при следующем
цикле синхронизации.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cmd.Context().Value("app").(*agent.App)
		if app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}
		defer app.Close()

		typ := markerDomain.Type(createType)
		if !markerDomain.ValidType(typ) {
			return fmt.Errorf("неизвестный тип маркера: %s", createType)
		}
		if createTitle == "" {
			return fmt.Errorf("заголовок обязателен")
		}

		var radius *float64
		if createRadiusM > 0 {
			radius = &createRadiusM
		}

		m := markerDomain.New(typ, createLat, createLon, createTitle, createDesc, radius, app.DeviceID())
		if err := app.Storage().InsertMarker(cmd.Context(), &m); err != nil {
			return fmt.Errorf("ошибка создания маркера: %w", err)
		}

		color.Green("Маркер создан: %s", m.ID)
		fmt.Println("Будет отправлен при следующей синхронизации")
		return nil
	},
}

func init() {
	CreateCmd.Flags().StringVarP(&createType, "type", "t", "", "тип маркера (safe, danger, uncertain, medical, food, shelter, checkpoint, combat)")
	CreateCmd.Flags().Float64Var(&createLat, "lat", 0, "широта")
	CreateCmd.Flags().Float64Var(&createLon, "lon", 0, "долгота")
	CreateCmd.Flags().StringVar(&createTitle, "title", "", "заголовок")
	CreateCmd.Flags().StringVar(&createDesc, "desc", "", "описание")
	CreateCmd.Flags().Float64Var(&createRadiusM, "radius", 0, "радиус зоны в метрах (для danger/combat)")

	CreateCmd.MarkFlagRequired("type")
	CreateCmd.MarkFlagRequired("lat")
	CreateCmd.MarkFlagRequired("lon")
	CreateCmd.MarkFlagRequired("title")
}
