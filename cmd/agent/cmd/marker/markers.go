// cmd/agent/cmd/marker/markers.go
package marker

import (
	"github.com/spf13/cobra"
)

// MarkerCmd — родительская команда операций с маркерами
var MarkerCmd = &cobra.Command{
	Use:   "marker",
	Short: "Операции с маркерами безопасности",
	Long: `Создание, просмотр и подтверждение маркеров безопасности:
укрытий, опасных зон, точек с водой, медпунктов и блокпостов.`,
}

func init() {
	MarkerCmd.AddCommand(CreateCmd)
	MarkerCmd.AddCommand(ListCmd)
	MarkerCmd.AddCommand(VoteCmd)
}
