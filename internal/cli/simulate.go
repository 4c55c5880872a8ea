package cli

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"defi-advisor/internal/app"
)

var (
	simulateFee    float64
	simulateDueIn  time.Duration
	simulateDryRun bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-advisory",
	Short: "模拟一次完整的建议评估流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFee <= 0 {
			return errors.New("--fee 必须大于 0")
		}

		opts := app.SimulateOptions{
			FeeGwei: decimal.NewFromFloat(simulateFee),
			DueIn:   simulateDueIn,
			DryRun:  simulateDryRun,
		}
		return getApp().SimulateAdvisory(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateFee, "fee", 0, "模拟的 gas 价格 (gwei)")
	simulateCmd.Flags().DurationVar(&simulateDueIn, "due-in", time.Hour, "模拟仓位距离下次领取的时间")
	simulateCmd.Flags().BoolVar(&simulateDryRun, "dry-run", false, "仅输出到日志，不发送 Telegram")
}
