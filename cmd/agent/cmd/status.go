// cmd/agent/cmd/status.go
package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Показать состояние агента",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer app.Close()

		fmt.Println("=== Состояние агента ===")
		fmt.Printf("Устройство: %s\n", app.DeviceID())

		depth, err := app.Storage().QueueDepth(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка подсчета очереди: %w", err)
		}

		if depth == 0 {
			color.Green("Очередь синхронизации пуста")
		} else {
			color.Yellow("Ожидает отправки: %d записей", depth)
		}

		return nil
	},
}
