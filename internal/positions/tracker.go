package positions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"defi-advisor/internal/storage"
)

// ErrInvalidPosition rejects position specs that fail validation.
var ErrInvalidPosition = errors.New("positions: invalid position")

var secondsPerYear = decimal.NewFromInt(365 * 24 * 60 * 60)

// NewPosition describes a position to register. Zero Cadence picks the
// protocol's typical claim interval; zero OpenedAt means "now".
type NewPosition struct {
	UserID      int64
	Protocol    string
	Asset       string
	Principal   decimal.Decimal
	APY         decimal.Decimal
	Cadence     time.Duration
	OpenedAt    time.Time
	LastClaimAt time.Time
}

// Lister is the advisory-facing view of the tracker.
type Lister interface {
	List(ctx context.Context, userID int64) ([]storage.Position, error)
}

// Tracker owns position lifecycle against the backing store.
type Tracker struct {
	store  storage.PositionStore
	logger zerolog.Logger
	clock  func() time.Time
}

// Options configures a Tracker.
type Options struct {
	Store  storage.PositionStore
	Logger zerolog.Logger
}

// NewTracker constructs a position tracker.
func NewTracker(opts Options) (*Tracker, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("position store is required")
	}

	return &Tracker{
		store:  opts.Store,
		logger: opts.Logger.With().Str("component", "positions").Logger(),
		clock:  time.Now,
	}, nil
}

// AddPosition validates and persists a position. Adding the same spec twice
// resolves to the existing row.
func (t *Tracker) AddPosition(ctx context.Context, spec NewPosition) (storage.Position, error) {
	if err := validateSpec(spec); err != nil {
		return storage.Position{}, err
	}

	now := t.clock().UTC()
	openedAt := spec.OpenedAt
	if openedAt.IsZero() {
		openedAt = now
	}
	lastClaim := spec.LastClaimAt
	if lastClaim.IsZero() {
		lastClaim = openedAt
	}
	if lastClaim.Before(openedAt) {
		return storage.Position{}, fmt.Errorf("%w: last claim precedes open time", ErrInvalidPosition)
	}

	cadence := spec.Cadence
	if cadence == 0 {
		cadence = CadenceFor(spec.Protocol)
	}

	position, err := t.store.UpsertPosition(ctx, storage.Position{
		UserID:      spec.UserID,
		Protocol:    normalizeProtocol(spec.Protocol),
		Asset:       spec.Asset,
		Principal:   spec.Principal,
		APY:         spec.APY,
		Cadence:     cadence,
		OpenedAt:    openedAt.UTC(),
		LastClaimAt: lastClaim.UTC(),
		Status:      storage.PositionStatusActive,
	})
	if err != nil {
		return storage.Position{}, fmt.Errorf("persist position: %w", err)
	}

	t.logger.Info().
		Int64("position_id", position.ID).
		Int64("user_id", position.UserID).
		Str("protocol", position.Protocol).
		Str("asset", position.Asset).
		Dur("cadence", position.Cadence).
		Msg("position registered")

	return position, nil
}

// RecordClaim stores a confirmed reward claim, resetting the accrual clock.
// Claims are never auto-assumed; callers invoke this on external confirmation.
func (t *Tracker) RecordClaim(ctx context.Context, positionID int64, at time.Time) error {
	if positionID <= 0 {
		return fmt.Errorf("%w: position id must be positive", ErrInvalidPosition)
	}
	if at.IsZero() {
		at = t.clock()
	}

	if err := t.store.RecordClaim(ctx, positionID, at.UTC()); err != nil {
		return fmt.Errorf("record claim for position %d: %w", positionID, err)
	}

	t.logger.Info().Int64("position_id", positionID).Time("claimed_at", at.UTC()).Msg("claim recorded")
	return nil
}

// Remove closes a position. The row survives as a tombstone until the
// advisor's next pass deletes its linked calendar event and purges it.
func (t *Tracker) Remove(ctx context.Context, positionID int64) error {
	if positionID <= 0 {
		return fmt.Errorf("%w: position id must be positive", ErrInvalidPosition)
	}

	if err := t.store.ClosePosition(ctx, positionID); err != nil {
		return fmt.Errorf("close position %d: %w", positionID, err)
	}

	t.logger.Info().Int64("position_id", positionID).Msg("position closed, calendar cleanup deferred to next advisory pass")
	return nil
}

// Get fetches one position.
func (t *Tracker) Get(ctx context.Context, positionID int64) (storage.Position, error) {
	return t.store.GetPosition(ctx, positionID)
}

// List returns a user's open positions.
func (t *Tracker) List(ctx context.Context, userID int64) ([]storage.Position, error) {
	return t.store.ListActivePositions(ctx, userID)
}

func validateSpec(spec NewPosition) error {
	if spec.UserID <= 0 {
		return fmt.Errorf("%w: user id must be positive", ErrInvalidPosition)
	}
	if normalizeProtocol(spec.Protocol) == "" {
		return fmt.Errorf("%w: protocol is required", ErrInvalidPosition)
	}
	if spec.Asset == "" {
		return fmt.Errorf("%w: asset is required", ErrInvalidPosition)
	}
	if !spec.Principal.IsPositive() {
		return fmt.Errorf("%w: principal must be positive", ErrInvalidPosition)
	}
	if spec.APY.IsNegative() {
		return fmt.Errorf("%w: apy cannot be negative", ErrInvalidPosition)
	}
	if spec.Cadence < 0 {
		return fmt.Errorf("%w: cadence cannot be negative", ErrInvalidPosition)
	}
	return nil
}

// NextClaim derives the next claim eligibility from the last claim plus the
// cadence. Pure; never mutates the position.
func NextClaim(position storage.Position) time.Time {
	base := position.LastClaimAt
	if base.IsZero() {
		base = position.OpenedAt
	}
	return base.Add(position.Cadence)
}

// ProjectedYield computes the reward accrued between the last claim and asOf
// using the ACT/365F day count (actual elapsed seconds over a fixed 365-day
// year). Non-compounding protocols accrue simple interest; auto-compounding
// vaults fold rewards into principal once per completed claim cycle, with
// simple accrual over the partial cycle remainder. Never extrapolates past
// asOf; returns zero when asOf precedes the last claim.
func ProjectedYield(position storage.Position, asOf time.Time) decimal.Decimal {
	start := position.LastClaimAt
	if start.IsZero() {
		start = position.OpenedAt
	}

	elapsed := asOf.Sub(start)
	if elapsed <= 0 {
		return decimal.Zero
	}

	if AutoCompounds(position.Protocol) && position.Cadence > 0 {
		return compoundedYield(position, elapsed)
	}
	return simpleYield(position.Principal, position.APY, elapsed)
}

func simpleYield(principal, apy decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	return principal.Mul(apy).Mul(yearFraction(elapsed))
}

func compoundedYield(position storage.Position, elapsed time.Duration) decimal.Decimal {
	cycles := int64(elapsed / position.Cadence)
	remainder := elapsed - time.Duration(cycles)*position.Cadence

	perCycleRate := position.APY.Mul(yearFraction(position.Cadence))
	growth := decimal.NewFromInt(1).Add(perCycleRate).Pow(decimal.NewFromInt(cycles))

	value := position.Principal.Mul(growth)
	if remainder > 0 {
		value = value.Add(simpleYield(value, position.APY, remainder))
	}
	return value.Sub(position.Principal)
}

func yearFraction(elapsed time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(elapsed / time.Second)).Div(secondsPerYear)
}

var _ Lister = (*Tracker)(nil)
