package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	evaluateUserID int64
	evaluateJSON   bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run an on-demand advisory evaluation for one user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if evaluateUserID <= 0 {
			return fmt.Errorf("--user must be greater than zero")
		}

		return getApp().Evaluate(cmd.Context(), evaluateUserID, evaluateJSON)
	},
}

func init() {
	evaluateCmd.Flags().Int64Var(&evaluateUserID, "user", 0, "User id to evaluate")
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "Print the result as JSON")
}
