// cmd/agent/cmd/migrate.go
package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Накатить миграции общего хранилища",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer app.Close()

		if err := app.Migrate(); err != nil {
			return fmt.Errorf("ошибка миграции: %w", err)
		}

		color.Green("Миграции применены")
		return nil
	},
}
