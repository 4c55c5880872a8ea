package advisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"defi-advisor/internal/gas"
	"defi-advisor/internal/positions"
	"defi-advisor/internal/risk"
	"defi-advisor/internal/storage"
)

// PositionAdvice is the evaluated view of one position.
type PositionAdvice struct {
	Position       storage.Position `json:"position"`
	NextClaim      time.Time        `json:"nextClaim"`
	DueWithin      bool             `json:"dueWithinLookahead"`
	ProjectedYield decimal.Decimal  `json:"projectedYield"`
}

// RiskAdvice is the evaluated view of one watched address. Error is set when
// the check could not complete; the assessment is never fabricated.
type RiskAdvice struct {
	Address    string           `json:"address"`
	Assessment *risk.Assessment `json:"assessment,omitempty"`
	HighRisk   bool             `json:"highRisk"`
	Error      string           `json:"error,omitempty"`
}

// Result is one full on-demand evaluation for a user.
type Result struct {
	RunID          string           `json:"runId"`
	UserID         int64            `json:"userId"`
	At             time.Time        `json:"at"`
	Gas            *gas.Reading     `json:"gas,omitempty"`
	GasError       string           `json:"gasError,omitempty"`
	GasFavorable   bool             `json:"gasFavorable"`
	Positions      []PositionAdvice `json:"positions"`
	TotalProjected decimal.Decimal  `json:"totalProjectedYield"`
	Risks          []RiskAdvice     `json:"risks"`
}

// EvaluateNow runs a synchronous evaluation for one user. It bypasses the
// notification cooldown entirely: conditions are reported as they stand and
// notification state is neither read nor written.
func (a *Advisor) EvaluateNow(ctx context.Context, userID int64) (Result, error) {
	user, err := a.users.GetUser(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("get user %d: %w", userID, err)
	}

	now := a.clock()
	result := Result{
		RunID:          uuid.NewString(),
		UserID:         user.ID,
		At:             now,
		Positions:      make([]PositionAdvice, 0),
		Risks:          make([]RiskAdvice, 0),
		TotalProjected: decimal.Zero,
	}

	reading, err := a.oracle.Sample(ctx)
	if err != nil {
		result.GasError = err.Error()
	} else {
		r := reading
		result.Gas = &r
		result.GasFavorable = reading.Level.Rank() <= gas.ParseLevel(user.GasAlertLevel).Rank()
	}

	list, err := a.lister.List(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("list positions: %w", err)
	}
	horizon := now.Add(a.opts.Lookahead)
	for _, position := range list {
		due := positions.NextClaim(position)
		accrued := positions.ProjectedYield(position, now)
		result.Positions = append(result.Positions, PositionAdvice{
			Position:       position,
			NextClaim:      due,
			DueWithin:      !due.After(horizon),
			ProjectedYield: accrued,
		})
		result.TotalProjected = result.TotalProjected.Add(accrued)
	}

	if a.watches != nil {
		watchList, err := a.watches.ListWatches(ctx, userID)
		if err != nil {
			return Result{}, fmt.Errorf("list watches: %w", err)
		}
		for _, watch := range watchList {
			assessment, assessErr := a.analyzer.Assess(ctx, watch.Address)
			if assessErr != nil {
				result.Risks = append(result.Risks, RiskAdvice{Address: watch.Address, Error: assessErr.Error()})
				continue
			}
			snapshot := assessment
			result.Risks = append(result.Risks, RiskAdvice{
				Address:    assessment.Address,
				Assessment: &snapshot,
				HighRisk:   assessment.HighRisk(a.analyzer.HighRiskThreshold()),
			})
		}
	}

	a.logger.Info().Str("run_id", result.RunID).Int64("user_id", userID).
		Int("positions", len(result.Positions)).
		Int("risks", len(result.Risks)).
		Msg("on-demand evaluation complete")

	return result, nil
}
