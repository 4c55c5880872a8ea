package positions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"defi-advisor/internal/storage"
)

type fakePositionStore struct {
	nextID    int64
	positions map[int64]storage.Position
	claims    map[int64]time.Time
	closed    []int64
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{
		positions: make(map[int64]storage.Position),
		claims:    make(map[int64]time.Time),
	}
}

func (f *fakePositionStore) UpsertPosition(_ context.Context, position storage.Position) (storage.Position, error) {
	for _, existing := range f.positions {
		if existing.UserID == position.UserID &&
			existing.Protocol == position.Protocol &&
			existing.Asset == position.Asset &&
			existing.Principal.Equal(position.Principal) &&
			existing.OpenedAt.Equal(position.OpenedAt) {
			existing.APY = position.APY
			existing.Cadence = position.Cadence
			f.positions[existing.ID] = existing
			return existing, nil
		}
	}
	f.nextID++
	position.ID = f.nextID
	f.positions[position.ID] = position
	return position, nil
}

func (f *fakePositionStore) GetPosition(_ context.Context, id int64) (storage.Position, error) {
	p, ok := f.positions[id]
	if !ok {
		return storage.Position{}, errors.New("not found")
	}
	return p, nil
}

func (f *fakePositionStore) ListActivePositions(_ context.Context, userID int64) ([]storage.Position, error) {
	out := make([]storage.Position, 0)
	for _, p := range f.positions {
		if p.UserID == userID && p.Status == storage.PositionStatusActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePositionStore) RecordClaim(_ context.Context, id int64, at time.Time) error {
	p, ok := f.positions[id]
	if !ok {
		return errors.New("not found")
	}
	p.LastClaimAt = at
	f.positions[id] = p
	f.claims[id] = at
	return nil
}

func (f *fakePositionStore) SetCalendarEventID(_ context.Context, id int64, eventID *string) error {
	p, ok := f.positions[id]
	if !ok {
		return errors.New("not found")
	}
	p.CalendarEventID = eventID
	f.positions[id] = p
	return nil
}

func (f *fakePositionStore) ClosePosition(_ context.Context, id int64) error {
	p, ok := f.positions[id]
	if !ok {
		return errors.New("not found")
	}
	p.Status = storage.PositionStatusClosed
	f.positions[id] = p
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakePositionStore) ListClosedWithCalendar(_ context.Context) ([]storage.Position, error) {
	out := make([]storage.Position, 0)
	for _, p := range f.positions {
		if p.Status == storage.PositionStatusClosed && p.CalendarEventID != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePositionStore) PurgePosition(_ context.Context, id int64) error {
	delete(f.positions, id)
	return nil
}

func newTestTracker(t *testing.T, store storage.PositionStore) *Tracker {
	t.Helper()
	tracker, err := NewTracker(Options{Store: store, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewTracker returned error: %v", err)
	}
	tracker.clock = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return tracker
}

func validSpec() NewPosition {
	return NewPosition{
		UserID:    7,
		Protocol:  "aave",
		Asset:     "USDC",
		Principal: decimal.NewFromInt(1000),
		APY:       decimal.NewFromFloat(0.05),
		OpenedAt:  time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAddPositionValidation(t *testing.T) {
	tracker := newTestTracker(t, newFakePositionStore())

	cases := []struct {
		name   string
		mutate func(*NewPosition)
	}{
		{"zero principal", func(s *NewPosition) { s.Principal = decimal.Zero }},
		{"negative principal", func(s *NewPosition) { s.Principal = decimal.NewFromInt(-5) }},
		{"negative apy", func(s *NewPosition) { s.APY = decimal.NewFromFloat(-0.01) }},
		{"missing protocol", func(s *NewPosition) { s.Protocol = "  " }},
		{"missing asset", func(s *NewPosition) { s.Asset = "" }},
		{"zero user", func(s *NewPosition) { s.UserID = 0 }},
		{"negative cadence", func(s *NewPosition) { s.Cadence = -time.Hour }},
		{"claim before open", func(s *NewPosition) {
			s.LastClaimAt = s.OpenedAt.Add(-24 * time.Hour)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec()
			tc.mutate(&spec)
			if _, err := tracker.AddPosition(context.Background(), spec); !errors.Is(err, ErrInvalidPosition) {
				t.Fatalf("expected ErrInvalidPosition, got %v", err)
			}
		})
	}
}

func TestAddPositionDefaultsCadenceByProtocol(t *testing.T) {
	store := newFakePositionStore()
	tracker := newTestTracker(t, store)

	spec := validSpec()
	spec.Protocol = "Compound"
	position, err := tracker.AddPosition(context.Background(), spec)
	if err != nil {
		t.Fatalf("AddPosition returned error: %v", err)
	}
	if position.Cadence != 3*24*time.Hour {
		t.Fatalf("expected compound default cadence 72h, got %s", position.Cadence)
	}
	if position.Protocol != "compound" {
		t.Fatalf("expected normalized protocol name, got %q", position.Protocol)
	}

	spec = validSpec()
	spec.Protocol = "someforknobodyknows"
	position, err = tracker.AddPosition(context.Background(), spec)
	if err != nil {
		t.Fatalf("AddPosition returned error: %v", err)
	}
	if position.Cadence != 7*24*time.Hour {
		t.Fatalf("expected weekly fallback cadence, got %s", position.Cadence)
	}
}

func TestAddPositionIdempotent(t *testing.T) {
	store := newFakePositionStore()
	tracker := newTestTracker(t, store)

	first, err := tracker.AddPosition(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("first AddPosition returned error: %v", err)
	}
	second, err := tracker.AddPosition(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("second AddPosition returned error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("identical specs created distinct rows: %d vs %d", first.ID, second.ID)
	}
	if len(store.positions) != 1 {
		t.Fatalf("expected a single stored row, got %d", len(store.positions))
	}
}

func TestRemoveClosesWithoutPurge(t *testing.T) {
	store := newFakePositionStore()
	tracker := newTestTracker(t, store)

	position, err := tracker.AddPosition(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("AddPosition returned error: %v", err)
	}

	if err := tracker.Remove(context.Background(), position.ID); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}

	stored := store.positions[position.ID]
	if stored.Status != storage.PositionStatusClosed {
		t.Fatalf("expected closed status, got %q", stored.Status)
	}
	active, err := tracker.List(context.Background(), position.UserID)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("closed position still listed as active")
	}
}

func TestNextClaimDerivation(t *testing.T) {
	opened := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	claimed := time.Date(2025, 5, 10, 9, 30, 0, 0, time.UTC)

	position := storage.Position{
		OpenedAt:    opened,
		LastClaimAt: claimed,
		Cadence:     7 * 24 * time.Hour,
	}
	if got := NextClaim(position); !got.Equal(claimed.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected next claim 7d after last claim, got %s", got)
	}

	position.LastClaimAt = time.Time{}
	if got := NextClaim(position); !got.Equal(opened.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected next claim 7d after open when never claimed, got %s", got)
	}
}

func TestProjectedYieldSimpleAccrual(t *testing.T) {
	lastClaim := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	position := storage.Position{
		Protocol:    "aave",
		Principal:   decimal.NewFromInt(1000),
		APY:         decimal.NewFromFloat(0.05),
		Cadence:     30 * 24 * time.Hour,
		OpenedAt:    lastClaim,
		LastClaimAt: lastClaim,
	}

	asOf := lastClaim.Add(30 * 24 * time.Hour)
	got := ProjectedYield(position, asOf)
	if got.Round(2).String() != "4.11" {
		t.Fatalf("expected 1000 at 5%% over 30/365 days to round to 4.11, got %s", got.String())
	}
}

func TestProjectedYieldNeverExtrapolates(t *testing.T) {
	lastClaim := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	position := storage.Position{
		Protocol:    "curve",
		Principal:   decimal.NewFromInt(500),
		APY:         decimal.NewFromFloat(0.10),
		Cadence:     7 * 24 * time.Hour,
		OpenedAt:    lastClaim,
		LastClaimAt: lastClaim,
	}

	if got := ProjectedYield(position, lastClaim); !got.IsZero() {
		t.Fatalf("expected zero yield at last claim instant, got %s", got)
	}
	if got := ProjectedYield(position, lastClaim.Add(-time.Hour)); !got.IsZero() {
		t.Fatalf("expected zero yield before last claim, got %s", got)
	}
}

func TestProjectedYieldCompoundsForVaults(t *testing.T) {
	lastClaim := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	asOf := lastClaim.Add(30 * 24 * time.Hour)

	vault := storage.Position{
		Protocol:    "yearn",
		Principal:   decimal.NewFromInt(1000),
		APY:         decimal.NewFromFloat(0.05),
		Cadence:     7 * 24 * time.Hour,
		OpenedAt:    lastClaim,
		LastClaimAt: lastClaim,
	}
	linear := vault
	linear.Protocol = "aave"

	compound := ProjectedYield(vault, asOf)
	simple := ProjectedYield(linear, asOf)

	if !compound.GreaterThan(simple) {
		t.Fatalf("expected compounded yield %s to exceed simple yield %s", compound, simple)
	}
	if compound.Round(2).String() != "4.12" {
		t.Fatalf("expected 4 compounded weekly cycles plus 2-day tail to round to 4.12, got %s", compound.String())
	}
}
