// cmd/agent/cmd/sync.go
package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Выполнить один цикл синхронизации",
	Long: `Выполняет один полный цикл синхронизации с общим хранилищем:
отправка локальных изменений, слияние дубликатов, получение чужих
изменений и сверка удаленных маркеров.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		defer app.Close()

		fmt.Println("Синхронизация с общим хранилищем...")

		res := app.SyncOnce(cmd.Context())
		if res.Skipped {
			color.Yellow("Цикл уже выполняется, запрос пропущен")
			return nil
		}

		fmt.Println()
		if len(res.Errors) == 0 {
			color.Green("Синхронизация завершена")
		} else {
			color.Yellow("Синхронизация завершена с ошибками (%d)", len(res.Errors))
		}

		fmt.Printf("Время выполнения: %v\n", res.Duration.Round(time.Millisecond))
		fmt.Printf("Отправлено маркеров: %d (слито дубликатов: %d)\n", res.PushedMarkers, res.MergedMarkers)
		fmt.Printf("Получено маркеров: %d\n", res.PulledMarkers)
		fmt.Printf("Отправлено SOS: %d, получено: %d\n", res.PushedSOS, res.PulledSOS)
		fmt.Printf("Отправлено откликов: %d, получено: %d\n", res.PushedResponses, res.PulledResponses)
		if res.RemovedOrphans > 0 {
			fmt.Printf("Удалено осиротевших маркеров: %d\n", res.RemovedOrphans)
		}

		for i, e := range res.Errors {
			if i < 3 { // Показываем только первые 3 ошибки
				fmt.Printf("  • %s\n", e)
			}
		}
		if len(res.Errors) > 3 {
			fmt.Printf("  ... и еще %d ошибок\n", len(res.Errors)-3)
		}

		return nil
	},
}
