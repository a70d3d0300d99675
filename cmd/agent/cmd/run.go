// cmd/agent/cmd/run.go
package cmd

import (
	"github.com/spf13/cobra"

	"safemesh/internal/app/agent/api"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Запустить агента",
	Long: `Запускает агента в постоянном режиме: периодическая синхронизация,
realtime-подписка на изменения общего хранилища, чистка истекших SOS
и локальный read-only API для UI.

Агент работает до получения сигнала завершения (Ctrl+C).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mux := api.New(app.Storage(), app.Remote(), app.Engine(), app.SOS(), log)
		app.SetAPIHandler(mux)

		return app.Run()
	},
}
