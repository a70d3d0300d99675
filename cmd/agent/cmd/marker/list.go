// cmd/agent/cmd/marker/list.go
package marker

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"safemesh/internal/app/agent"
	markerDomain "safemesh/internal/domain/marker"
)

var listType string

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список маркеров",
	Long:  `Просмотр локально известных маркеров с фильтрацией по типу.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cmd.Context().Value("app").(*agent.App)
		if app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}
		defer app.Close()

		typ := markerDomain.Type(listType)
		if listType != "" && !markerDomain.ValidType(typ) {
			return fmt.Errorf("неизвестный тип маркера: %s", listType)
		}

		markers, err := app.Storage().ListMarkers(cmd.Context(), typ)
		if err != nil {
			return fmt.Errorf("ошибка получения списка маркеров: %w", err)
		}

		if len(markers) == 0 {
			fmt.Println("Маркеры не найдены")
			return nil
		}

		fmt.Printf("Найдено маркеров: %d\n\n", len(markers))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tТИП\tЗАГОЛОВОК\tУВЕРЕННОСТЬ\tПРОВЕРЕН\tСТАТУС")

		for _, m := range markers {
			status := color.GreenString("synced")
			if m.SyncState == markerDomain.SyncStateDirty {
				status = color.YellowString("dirty")
			}

			verified := time.UnixMilli(m.LastVerified).Format("2006-01-02 15:04")
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%% (+%d/-%d)\t%s\t%s\n",
				m.ID[:8], m.Type, m.Title, m.ConfidenceScore, m.Agrees, m.Disagrees, verified, status)
		}

		return w.Flush()
	},
}

func init() {
	ListCmd.Flags().StringVarP(&listType, "type", "t", "", "фильтр по типу маркера")
}
