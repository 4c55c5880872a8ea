package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	assessAddress string
	assessJSON    bool
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Score a contract address for security risk",
	RunE: func(cmd *cobra.Command, args []string) error {
		if assessAddress == "" {
			return fmt.Errorf("--address must be provided")
		}

		return getApp().Assess(cmd.Context(), assessAddress, assessJSON)
	},
}

func init() {
	assessCmd.Flags().StringVar(&assessAddress, "address", "", "Contract address (0x...)")
	assessCmd.Flags().BoolVar(&assessJSON, "json", false, "Print the assessment as JSON")
}
