// cmd/agent/cmd/sos/cancel.go
package sos

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"safemesh/internal/app/agent"
	sosDomain "safemesh/internal/domain/sos"
)

var CancelCmd = &cobra.Command{
	Use:   "cancel <sos-id>",
	Short: "Отменить свой отклик на SOS запрос",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cmd.Context().Value("app").(*agent.App)
		if app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}
		defer app.Close()

		err := app.SOS().CancelResponse(cmd.Context(), args[0], app.DeviceID())
		switch {
		case errors.Is(err, sosDomain.ErrResponseNotFound):
			return fmt.Errorf("отклик на этот запрос не найден")
		case err != nil:
			return fmt.Errorf("ошибка отмены отклика: %w", err)
		}

		color.Green("Отклик отменен")
		return nil
	},
}
