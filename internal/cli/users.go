package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"defi-advisor/internal/app"
)

var (
	userHandle   string
	userChatID   string
	userGasLevel string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage advisory users",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userHandle == "" {
			return fmt.Errorf("--handle must be provided")
		}

		return getApp().UserAdd(cmd.Context(), app.UserAddOptions{
			Handle:        userHandle,
			ChatID:        userChatID,
			GasAlertLevel: userGasLevel,
		})
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userHandle, "handle", "", "Unique user handle")
	userAddCmd.Flags().StringVar(&userChatID, "chat-id", "", "Telegram chat id for notifications")
	userAddCmd.Flags().StringVar(&userGasLevel, "gas-level", "cheap", "Gas level that triggers alerts (cheap|normal|expensive)")

	userCmd.AddCommand(userAddCmd)
}
