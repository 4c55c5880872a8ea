package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"defi-advisor/internal/app"
)

var (
	sampleCount int
	sampleEvery time.Duration
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Take gas fee samples in the foreground and persist them",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sampleCount <= 0 {
			return fmt.Errorf("--count must be greater than zero")
		}

		opts := app.SampleOptions{
			Count: sampleCount,
			Every: sampleEvery,
		}

		return getApp().SampleGas(cmd.Context(), opts)
	},
}

func init() {
	sampleCmd.Flags().IntVar(&sampleCount, "count", 1, "Number of samples to take")
	sampleCmd.Flags().DurationVar(&sampleEvery, "every", 0, "Delay between samples (defaults to the scheduler interval)")
}
