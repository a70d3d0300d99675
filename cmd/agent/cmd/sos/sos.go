// cmd/agent/cmd/sos/sos.go
package sos

import (
	"github.com/spf13/cobra"
)

// SOSCmd — родительская команда жизненного цикла SOS
var SOSCmd = &cobra.Command{
	Use:   "sos",
	Short: "Запросы о помощи",
	Long: `Создание и завершение SOS запросов, отклики на чужие запросы
и просмотр активных запросов поблизости.`,
}

func init() {
	SOSCmd.AddCommand(CreateCmd)
	SOSCmd.AddCommand(CompleteCmd)
	SOSCmd.AddCommand(RespondCmd)
	SOSCmd.AddCommand(CancelCmd)
	SOSCmd.AddCommand(ListCmd)
}
