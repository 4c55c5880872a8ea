package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"defi-advisor/internal/alerting"
	"defi-advisor/internal/calendar"
	"defi-advisor/internal/dedup"
	"defi-advisor/internal/fetcher"
	"defi-advisor/internal/gas"
	"defi-advisor/internal/positions"
	"defi-advisor/internal/risk"
	"defi-advisor/internal/storage"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeOracle struct {
	mu      sync.Mutex
	reading gas.Reading
	err     error
	calls   int
}

func (f *fakeOracle) Chain() string { return "ethereum" }

func (f *fakeOracle) Sample(context.Context) (gas.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return gas.Reading{}, f.err
	}
	return f.reading, nil
}

func (f *fakeOracle) Last() (gas.Reading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reading, f.err == nil
}

func (f *fakeOracle) sampleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAssessor struct {
	mu          sync.Mutex
	assessments map[string]risk.Assessment
	errs        map[string]error
}

func (f *fakeAssessor) Assess(_ context.Context, address string) (risk.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[address]; ok {
		return risk.Assessment{}, err
	}
	return f.assessments[address], nil
}

func (f *fakeAssessor) HighRiskThreshold() int { return 70 }

type fakeUserStore struct {
	users []storage.User
}

func (f *fakeUserStore) ListActiveUsers(context.Context) ([]storage.User, error) {
	return f.users, nil
}

func (f *fakeUserStore) GetUser(_ context.Context, id int64) (storage.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return storage.User{}, fmt.Errorf("user %d not found", id)
}

func (f *fakeUserStore) UpsertUser(_ context.Context, u storage.User) (storage.User, error) {
	return u, nil
}

type fakeWatchStore struct {
	mu        sync.Mutex
	watches   map[int64][]storage.WatchedContract
	listCalls int
}

func (f *fakeWatchStore) AddWatch(_ context.Context, userID int64, address string) (storage.WatchedContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := storage.WatchedContract{UserID: userID, Address: address}
	f.watches[userID] = append(f.watches[userID], w)
	return w, nil
}

func (f *fakeWatchStore) ListWatches(_ context.Context, userID int64) ([]storage.WatchedContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.watches[userID], nil
}

func (f *fakeWatchStore) RemoveWatch(context.Context, int64, string) error { return nil }

func (f *fakeWatchStore) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type memPositionStore struct {
	mu        sync.Mutex
	nextID    int64
	positions map[int64]storage.Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[int64]storage.Position)}
}

func (m *memPositionStore) add(p storage.Position) storage.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		m.nextID++
		p.ID = m.nextID
	} else if p.ID > m.nextID {
		m.nextID = p.ID
	}
	if p.Status == "" {
		p.Status = storage.PositionStatusActive
	}
	m.positions[p.ID] = p
	return p
}

func (m *memPositionStore) get(id int64) (storage.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	return p, ok
}

func (m *memPositionStore) List(_ context.Context, userID int64) ([]storage.Position, error) {
	return m.ListActivePositions(context.Background(), userID)
}

func (m *memPositionStore) UpsertPosition(_ context.Context, p storage.Position) (storage.Position, error) {
	return m.add(p), nil
}

func (m *memPositionStore) GetPosition(_ context.Context, id int64) (storage.Position, error) {
	p, ok := m.get(id)
	if !ok {
		return storage.Position{}, errors.New("not found")
	}
	return p, nil
}

func (m *memPositionStore) ListActivePositions(_ context.Context, userID int64) ([]storage.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Position, 0)
	for _, p := range m.positions {
		if p.UserID == userID && p.Status == storage.PositionStatusActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPositionStore) RecordClaim(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return errors.New("not found")
	}
	p.LastClaimAt = at
	m.positions[id] = p
	return nil
}

func (m *memPositionStore) SetCalendarEventID(_ context.Context, id int64, eventID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return errors.New("not found")
	}
	p.CalendarEventID = eventID
	m.positions[id] = p
	return nil
}

func (m *memPositionStore) ClosePosition(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return errors.New("not found")
	}
	p.Status = storage.PositionStatusClosed
	m.positions[id] = p
	return nil
}

func (m *memPositionStore) ListClosedWithCalendar(context.Context) ([]storage.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Position, 0)
	for _, p := range m.positions {
		if p.Status == storage.PositionStatusClosed && p.CalendarEventID != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPositionStore) PurgePosition(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, id)
	return nil
}

type captureNotifier struct {
	mu       sync.Mutex
	notes    []alerting.Notification
	failures int
	attempts int
}

func (c *captureNotifier) Notify(_ context.Context, note alerting.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.failures > 0 {
		c.failures--
		return errors.New("delivery failed")
	}
	c.notes = append(c.notes, note)
	return nil
}

func (c *captureNotifier) byKind(kind string) []alerting.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]alerting.Notification, 0)
	for _, n := range c.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (c *captureNotifier) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

type fakeSink struct {
	mu      sync.Mutex
	creates int
	updates int
	deletes []string
}

func (f *fakeSink) UpsertEvent(_ context.Context, eventID string, _ calendar.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if eventID == "" {
		f.creates++
		return fmt.Sprintf("evt-%d", f.creates), nil
	}
	f.updates++
	return eventID, nil
}

func (f *fakeSink) DeleteEvent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, eventID)
	return nil
}

func (f *fakeSink) counts() (creates, updates, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.updates, len(f.deletes)
}

type fakeLocker struct {
	acquired bool
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type conflictTracker struct {
	*dedup.Memory
	mu        sync.Mutex
	conflicts int
}

func (c *conflictTracker) TryMark(ctx context.Context, userID int64, kind, key string, at time.Time, cooldown time.Duration) (bool, error) {
	c.mu.Lock()
	if c.conflicts != 0 {
		if c.conflicts > 0 {
			c.conflicts--
		}
		c.mu.Unlock()
		return false, dedup.ErrStateConflict
	}
	c.mu.Unlock()
	return c.Memory.TryMark(ctx, userID, kind, key, at, cooldown)
}

type fixture struct {
	adv      *Advisor
	clock    *stepClock
	oracle   *fakeOracle
	assessor *fakeAssessor
	users    *fakeUserStore
	watches  *fakeWatchStore
	store    *memPositionStore
	state    *dedup.Memory
	notifier *captureNotifier
	sink     *fakeSink
}

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func cheapReading(at time.Time) gas.Reading {
	return gas.Reading{
		Chain:     "ethereum",
		Fee:       decimal.NewFromInt(8),
		Level:     gas.LevelCheap,
		Freshness: gas.FreshnessFresh,
		SampledAt: at,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &stepClock{now: testBase},
		oracle:   &fakeOracle{},
		assessor: &fakeAssessor{assessments: make(map[string]risk.Assessment), errs: make(map[string]error)},
		users: &fakeUserStore{users: []storage.User{
			{ID: 1, Handle: "alice", ChatID: "100", Active: true, GasAlertLevel: "cheap"},
		}},
		watches:  &fakeWatchStore{watches: make(map[int64][]storage.WatchedContract)},
		store:    newMemPositionStore(),
		state:    dedup.NewMemory(),
		notifier: &captureNotifier{},
		sink:     &fakeSink{},
	}
	f.oracle.reading = cheapReading(testBase)

	adv, err := New(Options{
		Oracle:        f.oracle,
		Analyzer:      f.assessor,
		Positions:     f.store,
		Users:         f.users,
		Watches:       f.watches,
		Store:         f.store,
		State:         f.state,
		Notifier:      f.notifier,
		Calendar:      f.sink,
		Logger:        zerolog.Nop(),
		Lookahead:     24 * time.Hour,
		Cooldown:      6 * time.Hour,
		MaxConcurrent: 2,
		Retry:         RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	adv.clock = f.clock.Now
	f.adv = adv
	return f
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	if err := f.adv.ProcessTick(context.Background(), f.clock.Now()); err != nil {
		t.Fatalf("ProcessTick returned error: %v", err)
	}
	f.adv.wg.Wait()
}

func (f *fixture) duePosition(userID int64) storage.Position {
	return f.store.add(storage.Position{
		UserID:      userID,
		Protocol:    "aave",
		Asset:       "USDC",
		Principal:   decimal.NewFromInt(1000),
		APY:         decimal.NewFromFloat(0.05),
		Cadence:     7 * 24 * time.Hour,
		OpenedAt:    testBase.Add(-8 * 24 * time.Hour),
		LastClaimAt: testBase.Add(-7 * 24 * time.Hour).Add(2 * time.Hour),
	})
}

func TestTickNotifiesCheapGasOncePerCooldown(t *testing.T) {
	f := newFixture(t)

	f.tick(t)
	f.tick(t)
	f.tick(t)
	if got := len(f.notifier.byKind(KindGas)); got != 1 {
		t.Fatalf("expected exactly one gas notification within cooldown, got %d", got)
	}

	f.clock.Advance(6 * time.Hour)
	f.tick(t)
	if got := len(f.notifier.byKind(KindGas)); got != 2 {
		t.Fatalf("expected a second notification after cooldown elapsed, got %d", got)
	}
}

func TestTickGasAboveThresholdStaysQuiet(t *testing.T) {
	f := newFixture(t)
	f.oracle.reading.Level = gas.LevelNormal

	f.tick(t)
	if got := len(f.notifier.byKind(KindGas)); got != 0 {
		t.Fatalf("normal gas should not alert a cheap-threshold user, got %d notes", got)
	}
}

func TestTickClaimDueAndCalendarSync(t *testing.T) {
	f := newFixture(t)
	due := f.duePosition(1)
	// second position far from due: synced to the calendar but not alerted
	far := f.store.add(storage.Position{
		UserID:      1,
		Protocol:    "uniswap",
		Asset:       "WETH",
		Principal:   decimal.NewFromInt(500),
		APY:         decimal.NewFromFloat(0.03),
		Cadence:     14 * 24 * time.Hour,
		OpenedAt:    testBase,
		LastClaimAt: testBase,
	})

	f.tick(t)

	claims := f.notifier.byKind(KindClaim)
	if len(claims) != 1 {
		t.Fatalf("expected one claim notification, got %d", len(claims))
	}
	if !strings.Contains(claims[0].Subject, "aave") {
		t.Fatalf("claim subject should name the due position, got %q", claims[0].Subject)
	}

	creates, _, _ := f.sink.counts()
	if creates != 2 {
		t.Fatalf("both positions should get calendar events, got %d creates", creates)
	}
	for _, id := range []int64{due.ID, far.ID} {
		p, _ := f.store.get(id)
		if p.CalendarEventID == nil || *p.CalendarEventID == "" {
			t.Fatalf("position %d should have a persisted calendar event id", id)
		}
	}
}

func TestCalendarSyncUpdatesNotDuplicates(t *testing.T) {
	f := newFixture(t)
	p := f.duePosition(1)

	f.tick(t)
	f.clock.Advance(time.Hour)
	f.tick(t)

	creates, updates, _ := f.sink.counts()
	if creates != 1 {
		t.Fatalf("re-sync must not create a second event, got %d creates", creates)
	}
	if updates == 0 {
		t.Fatal("second tick should update the existing event")
	}
	stored, _ := f.store.get(p.ID)
	if stored.CalendarEventID == nil || *stored.CalendarEventID != "evt-1" {
		t.Fatalf("calendar event id should stay evt-1, got %v", stored.CalendarEventID)
	}
}

func TestRiskAlertOnlyForHighScores(t *testing.T) {
	f := newFixture(t)
	hot := "0x1000000000000000000000000000000000000001"
	cold := "0x2000000000000000000000000000000000000002"
	f.watches.watches[1] = []storage.WatchedContract{
		{UserID: 1, Address: hot},
		{UserID: 1, Address: cold},
	}
	f.assessor.assessments[hot] = risk.Assessment{
		Address: hot,
		Score:   85,
		Factors: []risk.Factor{{Name: risk.FactorUnverified, Weight: 30}},
		Outcome: risk.OutcomeHoneypot,
	}
	f.assessor.assessments[cold] = risk.Assessment{Address: cold, Score: 10, Verified: true}

	f.tick(t)

	risks := f.notifier.byKind(KindRisk)
	if len(risks) != 1 {
		t.Fatalf("expected one risk notification, got %d", len(risks))
	}
	if !strings.Contains(risks[0].Subject, hot) {
		t.Fatalf("risk subject should name the flagged address, got %q", risks[0].Subject)
	}
}

func TestRiskFailureDoesNotBlockClaims(t *testing.T) {
	f := newFixture(t)
	f.duePosition(1)
	bad := "0x3000000000000000000000000000000000000003"
	f.watches.watches[1] = []storage.WatchedContract{{UserID: 1, Address: bad}}
	f.assessor.errs[bad] = fmt.Errorf("%w: provider down", fetcher.ErrDataUnavailable)

	f.tick(t)

	if got := len(f.notifier.byKind(KindClaim)); got != 1 {
		t.Fatalf("claim notification should survive a risk-check failure, got %d", got)
	}
	if got := len(f.notifier.byKind(KindRisk)); got != 0 {
		t.Fatalf("failed risk check must not fabricate an alert, got %d", got)
	}
}

func TestNotifyFailureReleasesCooldownSlot(t *testing.T) {
	f := newFixture(t)
	f.users.users[0].GasAlertLevel = "expensive" // gas alert always true, isolate via kind
	f.oracle.reading.Level = gas.LevelNormal
	f.notifier.failures = 1

	f.tick(t)
	if got := len(f.notifier.byKind(KindGas)); got != 0 {
		t.Fatalf("failed delivery should not record a sent note, got %d", got)
	}

	f.clock.Advance(10 * time.Minute) // still well inside cooldown
	f.tick(t)
	if got := len(f.notifier.byKind(KindGas)); got != 1 {
		t.Fatalf("released slot should allow the next tick to deliver, got %d", got)
	}
	if got := f.notifier.attemptCount(); got != 2 {
		t.Fatalf("expected 2 delivery attempts, got %d", got)
	}
}

func TestStateConflictRetriedOnceThenDelivered(t *testing.T) {
	f := newFixture(t)
	ct := &conflictTracker{Memory: f.state, conflicts: 1}
	f.adv.state = ct

	f.tick(t)
	if got := len(f.notifier.byKind(KindGas)); got != 1 {
		t.Fatalf("one conflict should be retried and the note delivered, got %d", got)
	}
}

func TestStateConflictPersistingIsSurfacedNotSent(t *testing.T) {
	f := newFixture(t)
	ct := &conflictTracker{Memory: f.state, conflicts: -1} // conflict forever
	f.adv.state = ct

	f.tick(t)
	if got := len(f.notifier.byKind(KindGas)); got != 0 {
		t.Fatalf("persistent conflict must suppress delivery, got %d", got)
	}
}

func TestSweepDeletesCalendarAndPurgesTombstone(t *testing.T) {
	f := newFixture(t)
	eventID := "evt-9"
	closed := f.store.add(storage.Position{
		ID:              3,
		UserID:          1,
		Protocol:        "curve",
		Asset:           "DAI",
		Principal:       decimal.NewFromInt(100),
		APY:             decimal.NewFromFloat(0.02),
		Cadence:         7 * 24 * time.Hour,
		OpenedAt:        testBase.Add(-30 * 24 * time.Hour),
		LastClaimAt:     testBase.Add(-30 * 24 * time.Hour),
		CalendarEventID: &eventID,
		Status:          storage.PositionStatusClosed,
	})
	if _, err := f.state.TryMark(context.Background(), 1, KindClaim, ClaimEventKey(closed.ID), testBase, time.Hour); err != nil {
		t.Fatalf("seed claim state: %v", err)
	}

	f.tick(t)

	_, _, deletes := f.sink.counts()
	if deletes != 1 || f.sink.deletes[0] != eventID {
		t.Fatalf("expected calendar event %s deleted, got %v", eventID, f.sink.deletes)
	}
	if _, ok := f.store.get(closed.ID); ok {
		t.Fatal("tombstone should be purged after calendar cleanup")
	}
	if _, found, _ := f.state.LastNotified(context.Background(), 1, KindClaim, ClaimEventKey(closed.ID)); found {
		t.Fatal("claim notification state should be cleared with the position")
	}
}

func TestAdvisoryLockHeldElsewhereSkipsTick(t *testing.T) {
	f := newFixture(t)
	f.adv.locker = &fakeLocker{acquired: false}
	f.adv.opts.AdvisoryLockKey = 42

	f.tick(t)

	if got := f.oracle.sampleCalls(); got != 0 {
		t.Fatalf("tick behind a held lock must not sample, got %d calls", got)
	}
	if got := len(f.notifier.byKind(KindGas)); got != 0 {
		t.Fatalf("tick behind a held lock must not notify, got %d notes", got)
	}
}

type blockingNotifier struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingNotifier) Notify(context.Context, alerting.Notification) error {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-b.release
	return nil
}

func TestOverlappingUserEvaluationSkipped(t *testing.T) {
	f := newFixture(t)
	f.watches.watches[1] = []storage.WatchedContract{} // ensure watch listing is reached
	bn := &blockingNotifier{started: make(chan struct{}, 1), release: make(chan struct{})}
	f.adv.notifier = bn

	// first tick blocks inside the gas notification
	if err := f.adv.ProcessTick(context.Background(), f.clock.Now()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	<-bn.started

	// second tick sees the user still in flight and skips it
	if err := f.adv.ProcessTick(context.Background(), f.clock.Now()); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	close(bn.release)
	f.adv.wg.Wait()

	// had the second tick evaluated the user too, the watch listing would
	// have run twice
	if got := f.watches.listCount(); got != 1 {
		t.Fatalf("expected exactly one full evaluation, got %d watch listings", got)
	}
}

func TestEvaluateNowBypassesCooldownAndStaysReadOnly(t *testing.T) {
	f := newFixture(t)
	f.duePosition(1)
	hot := "0x1000000000000000000000000000000000000001"
	f.watches.watches[1] = []storage.WatchedContract{{UserID: 1, Address: hot}}
	f.assessor.assessments[hot] = risk.Assessment{Address: hot, Score: 90}

	markedAt := testBase.Add(-time.Minute)
	if _, err := f.state.TryMark(context.Background(), 1, KindGas, GasEventKey("ethereum"), markedAt, 6*time.Hour); err != nil {
		t.Fatalf("seed gas state: %v", err)
	}

	result, err := f.adv.EvaluateNow(context.Background(), 1)
	if err != nil {
		t.Fatalf("EvaluateNow returned error: %v", err)
	}

	if result.RunID == "" {
		t.Fatal("expected a run id")
	}
	if !result.GasFavorable {
		t.Fatal("cheap reading must be reported favorable despite the active cooldown")
	}
	if len(result.Positions) != 1 || !result.Positions[0].DueWithin {
		t.Fatalf("expected one due position, got %+v", result.Positions)
	}
	if len(result.Risks) != 1 || !result.Risks[0].HighRisk {
		t.Fatalf("expected one high-risk advice, got %+v", result.Risks)
	}

	if got := f.notifier.attemptCount(); got != 0 {
		t.Fatalf("EvaluateNow must not send notifications, got %d attempts", got)
	}
	at, found, _ := f.state.LastNotified(context.Background(), 1, KindGas, GasEventKey("ethereum"))
	if !found || !at.Equal(markedAt) {
		t.Fatalf("EvaluateNow must not touch notification state, got found=%v at=%s", found, at)
	}
}

func TestEvaluateNowPortfolioTotal(t *testing.T) {
	f := newFixture(t)
	first := f.duePosition(1)
	second := f.store.add(storage.Position{
		UserID:      1,
		Protocol:    "compound",
		Asset:       "DAI",
		Principal:   decimal.NewFromInt(2500),
		APY:         decimal.NewFromFloat(0.04),
		Cadence:     3 * 24 * time.Hour,
		OpenedAt:    testBase.Add(-10 * 24 * time.Hour),
		LastClaimAt: testBase.Add(-2 * 24 * time.Hour),
	})

	result, err := f.adv.EvaluateNow(context.Background(), 1)
	if err != nil {
		t.Fatalf("EvaluateNow returned error: %v", err)
	}

	want := positions.ProjectedYield(first, testBase).Add(positions.ProjectedYield(second, testBase))
	if !result.TotalProjected.Equal(want) {
		t.Fatalf("portfolio total = %s, want %s", result.TotalProjected, want)
	}
}

func TestEvaluateNowUnknownUser(t *testing.T) {
	f := newFixture(t)
	if _, err := f.adv.EvaluateNow(context.Background(), 404); err == nil {
		t.Fatal("expected error for unknown user")
	}
}
