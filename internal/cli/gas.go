package cli

import (
	"github.com/spf13/cobra"
)

var gasJSON bool

var gasCmd = &cobra.Command{
	Use:   "gas",
	Short: "Sample the current gas fee and print the oracle reading",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().GasInfo(cmd.Context(), gasJSON)
	},
}

func init() {
	gasCmd.Flags().BoolVar(&gasJSON, "json", false, "Print the reading as JSON")
}
