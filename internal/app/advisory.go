package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"defi-advisor/internal/advisor"
	"defi-advisor/internal/alerting"
	"defi-advisor/internal/calendar"
	"defi-advisor/internal/dedup"
	"defi-advisor/internal/gas"
	"defi-advisor/internal/positions"
	"defi-advisor/internal/risk"
	"defi-advisor/internal/storage"
)

// Evaluate runs an on-demand advisory evaluation for one user and prints the
// result. Nothing is notified and no cooldown state is touched.
func (a *App) Evaluate(ctx context.Context, userID int64, asJSON bool) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rpc, scan := a.newChainClients()
	oracle := a.newOracle(a.feeProvider(rpc, scan))
	a.warmOracle(ctx, store, oracle)
	analyzer := a.newAnalyzer(rpc, scan, store)

	tracker, err := positions.NewTracker(positions.Options{Store: store, Logger: a.Logger})
	if err != nil {
		return err
	}

	adv, err := advisor.New(advisor.Options{
		Oracle:    oracle,
		Analyzer:  analyzer,
		Positions: tracker,
		Users:     store,
		Watches:   store,
		State:     dedup.NewMemory(),
		Notifier:  alerting.NewLogNotifier(a.Logger),
		Calendar:  calendar.Noop{},
		Logger:    a.Logger,
		Lookahead: a.Config.Advisor.Lookahead,
		Cooldown:  a.Config.Advisor.Cooldown,
	})
	if err != nil {
		return err
	}

	result, err := adv.EvaluateNow(ctx, userID)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(result)
	}

	printEvaluation(result)
	return nil
}

// Assess scores a single contract address and prints the assessment.
func (a *App) Assess(ctx context.Context, address string, asJSON bool) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	rpc, scan := a.newChainClients()
	analyzer := a.newAnalyzer(rpc, scan, assessmentHistory(store))

	assessment, err := analyzer.Assess(ctx, address)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(assessment)
	}

	printAssessment(assessment, analyzer.HighRiskThreshold())
	return nil
}

// GasInfo samples the current fee and prints the oracle reading.
func (a *App) GasInfo(ctx context.Context, asJSON bool) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	rpc, scan := a.newChainClients()
	oracle := a.newOracle(a.feeProvider(rpc, scan))
	if store != nil {
		a.warmOracle(ctx, store, oracle)
	}

	reading, err := oracle.Sample(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(reading)
	}

	printReading(reading)
	return nil
}

// assessmentHistory avoids handing the analyzer a typed-nil interface when
// the database is not configured.
func assessmentHistory(store *storage.Store) storage.AssessmentStore {
	if store == nil {
		return nil
	}
	return store
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEvaluation(result advisor.Result) {
	fmt.Fprintf(os.Stdout, "Run %s for user %d at %s\n", result.RunID, result.UserID, result.At.Format(time.RFC3339))

	if result.Gas != nil {
		favorable := ""
		if result.GasFavorable {
			favorable = "  " + color.GreenString("[favorable]")
		}
		fmt.Fprintf(os.Stdout, "Gas: %s gwei (%s, %s)%s\n",
			formatDecimal(result.Gas.Fee, 2), result.Gas.Level, result.Gas.Freshness, favorable)
	} else if result.GasError != "" {
		fmt.Fprintf(os.Stdout, "Gas: %s (%s)\n", color.YellowString("unavailable"), sanitizeInline(result.GasError))
	}

	fmt.Fprintln(os.Stdout)
	if len(result.Positions) == 0 {
		fmt.Fprintln(os.Stdout, "no active positions")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "ID\tProtocol\tAsset\tPrincipal\tAPY\tNext claim (UTC)\tDue\tProjected yield")
		for _, advice := range result.Positions {
			due := ""
			if advice.DueWithin {
				due = "yes"
			}
			fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				advice.Position.ID,
				sanitizeInline(advice.Position.Protocol),
				sanitizeInline(advice.Position.Asset),
				formatDecimal(advice.Position.Principal, 2),
				formatDecimal(advice.Position.APY, 4),
				advice.NextClaim.UTC().Format(time.RFC3339),
				due,
				formatDecimal(advice.ProjectedYield, 6),
			)
		}
		writer.Flush()
		fmt.Fprintf(os.Stdout, "Total projected yield: %s\n", formatDecimal(result.TotalProjected, 6))
	}

	if len(result.Risks) > 0 {
		fmt.Fprintln(os.Stdout)
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Address\tScore\tVerified\tOutcome\tHigh risk")
		for _, advice := range result.Risks {
			if advice.Assessment == nil {
				fmt.Fprintf(writer, "%s\t-\t-\t%s\t-\n", advice.Address, sanitizeInline(advice.Error))
				continue
			}
			highRisk := ""
			if advice.HighRisk {
				highRisk = "yes"
			}
			fmt.Fprintf(writer, "%s\t%d\t%t\t%s\t%s\n",
				advice.Address,
				advice.Assessment.Score,
				advice.Assessment.Verified,
				advice.Assessment.Outcome,
				highRisk,
			)
		}
		writer.Flush()
	}
}

func printAssessment(assessment risk.Assessment, threshold int) {
	fmt.Fprintf(os.Stdout, "Address:  %s\n", assessment.Address)
	fmt.Fprintf(os.Stdout, "Score:    %d/100", assessment.Score)
	if assessment.Score >= threshold {
		fmt.Fprintf(os.Stdout, "  %s", color.RedString("(high risk)"))
	}
	fmt.Fprintln(os.Stdout)
	fmt.Fprintf(os.Stdout, "Verified: %t\n", assessment.Verified)
	fmt.Fprintf(os.Stdout, "Outcome:  %s\n", assessment.Outcome)

	source := "live"
	if assessment.FromCache {
		source = "cached"
	}
	if assessment.Stale {
		source = "stale cache"
	}
	fmt.Fprintf(os.Stdout, "Checked:  %s (%s)\n", assessment.CheckedAt.UTC().Format(time.RFC3339), source)

	if len(assessment.Factors) > 0 {
		fmt.Fprintln(os.Stdout, "Factors:")
		for _, factor := range assessment.Factors {
			detail := ""
			if factor.Detail != "" {
				detail = ": " + sanitizeInline(factor.Detail)
			}
			fmt.Fprintf(os.Stdout, "  - %s (weight %d)%s\n", factor.Name, factor.Weight, detail)
		}
	}
}

func printReading(reading gas.Reading) {
	fmt.Fprintf(os.Stdout, "Chain:     %s\n", reading.Chain)
	fmt.Fprintf(os.Stdout, "Fee:       %s gwei\n", formatDecimal(reading.Fee, 2))
	fmt.Fprintf(os.Stdout, "Level:     %s\n", reading.Level)
	fmt.Fprintf(os.Stdout, "Freshness: %s\n", reading.Freshness)
	if reading.Spike {
		fmt.Fprintf(os.Stdout, "Spike:     %s\n", color.RedString("yes"))
	}
	if reading.Prediction.Hour >= 0 {
		fmt.Fprintf(os.Stdout, "Cheapest hour: %02d:00 UTC (mean %s gwei, %s confidence, %d samples)\n",
			reading.Prediction.Hour,
			formatDecimal(reading.Prediction.MeanFee, 2),
			reading.Prediction.Confidence,
			reading.Prediction.SampleCount,
		)
	}
}
