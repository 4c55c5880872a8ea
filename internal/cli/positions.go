package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"defi-advisor/internal/app"
)

var (
	positionUserID    int64
	positionProtocol  string
	positionAsset     string
	positionPrincipal float64
	positionAPY       float64
	positionCadence   time.Duration
	positionOpenedAt  string
	positionID        int64
)

var positionCmd = &cobra.Command{
	Use:   "position",
	Short: "Manage yield positions",
}

var positionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a yield position",
	RunE: func(cmd *cobra.Command, args []string) error {
		if positionUserID <= 0 {
			return fmt.Errorf("--user must be greater than zero")
		}
		if positionPrincipal <= 0 {
			return fmt.Errorf("--principal must be greater than zero")
		}

		opts := app.PositionAddOptions{
			UserID:    positionUserID,
			Protocol:  positionProtocol,
			Asset:     positionAsset,
			Principal: decimal.NewFromFloat(positionPrincipal),
			APY:       decimal.NewFromFloat(positionAPY),
			Cadence:   positionCadence,
		}

		if positionOpenedAt != "" {
			openedAt, err := time.Parse(time.RFC3339, positionOpenedAt)
			if err != nil {
				return fmt.Errorf("invalid --opened-at value: %w", err)
			}
			opts.OpenedAt = &openedAt
		}

		return getApp().PositionAdd(cmd.Context(), opts)
	},
}

var positionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's active positions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if positionUserID <= 0 {
			return fmt.Errorf("--user must be greater than zero")
		}

		return getApp().PositionList(cmd.Context(), positionUserID)
	},
}

var positionClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Record a confirmed reward claim",
	RunE: func(cmd *cobra.Command, args []string) error {
		if positionID <= 0 {
			return fmt.Errorf("--id must be greater than zero")
		}

		return getApp().PositionClaim(cmd.Context(), positionID)
	},
}

var positionRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Close a position",
	RunE: func(cmd *cobra.Command, args []string) error {
		if positionID <= 0 {
			return fmt.Errorf("--id must be greater than zero")
		}

		return getApp().PositionRemove(cmd.Context(), positionID)
	},
}

func init() {
	positionAddCmd.Flags().Int64Var(&positionUserID, "user", 0, "Owning user id")
	positionAddCmd.Flags().StringVar(&positionProtocol, "protocol", "", "Protocol name (aave, compound, lido, uniswap, curve)")
	positionAddCmd.Flags().StringVar(&positionAsset, "asset", "", "Deposited asset symbol")
	positionAddCmd.Flags().Float64Var(&positionPrincipal, "principal", 0, "Principal amount")
	positionAddCmd.Flags().Float64Var(&positionAPY, "apy", 0, "Annual percentage yield as a fraction (0.05 = 5%)")
	positionAddCmd.Flags().DurationVar(&positionCadence, "cadence", 0, "Claim cadence (defaults to the protocol's typical interval)")
	positionAddCmd.Flags().StringVar(&positionOpenedAt, "opened-at", "", "Position open time (RFC3339, defaults to now)")

	positionListCmd.Flags().Int64Var(&positionUserID, "user", 0, "Owning user id")

	positionClaimCmd.Flags().Int64Var(&positionID, "id", 0, "Position id")
	positionRemoveCmd.Flags().Int64Var(&positionID, "id", 0, "Position id")

	positionCmd.AddCommand(positionAddCmd)
	positionCmd.AddCommand(positionListCmd)
	positionCmd.AddCommand(positionClaimCmd)
	positionCmd.AddCommand(positionRemoveCmd)
}
