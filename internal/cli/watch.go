package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	watchUserID  int64
	watchAddress string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the contract risk watchlist",
}

var watchAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a contract address to a user's watchlist",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchUserID <= 0 {
			return fmt.Errorf("--user must be greater than zero")
		}
		if watchAddress == "" {
			return fmt.Errorf("--address must be provided")
		}

		return getApp().WatchAdd(cmd.Context(), watchUserID, watchAddress)
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's watched contracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchUserID <= 0 {
			return fmt.Errorf("--user must be greater than zero")
		}

		return getApp().WatchList(cmd.Context(), watchUserID)
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a contract address from a user's watchlist",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchUserID <= 0 {
			return fmt.Errorf("--user must be greater than zero")
		}
		if watchAddress == "" {
			return fmt.Errorf("--address must be provided")
		}

		return getApp().WatchRemove(cmd.Context(), watchUserID, watchAddress)
	},
}

func init() {
	watchAddCmd.Flags().Int64Var(&watchUserID, "user", 0, "Owning user id")
	watchAddCmd.Flags().StringVar(&watchAddress, "address", "", "Contract address (0x...)")

	watchListCmd.Flags().Int64Var(&watchUserID, "user", 0, "Owning user id")

	watchRemoveCmd.Flags().Int64Var(&watchUserID, "user", 0, "Owning user id")
	watchRemoveCmd.Flags().StringVar(&watchAddress, "address", "", "Contract address (0x...)")

	watchCmd.AddCommand(watchAddCmd)
	watchCmd.AddCommand(watchListCmd)
	watchCmd.AddCommand(watchRemoveCmd)
}
