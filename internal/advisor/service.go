// Package advisor runs the coordinating loop: per user and per tick it
// re-evaluates gas, claim, and risk conditions, dedups notifications through
// a cooldown state machine, and keeps calendar reminders in sync.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"defi-advisor/internal/alerting"
	"defi-advisor/internal/calendar"
	"defi-advisor/internal/dedup"
	"defi-advisor/internal/gas"
	"defi-advisor/internal/metrics"
	"defi-advisor/internal/positions"
	"defi-advisor/internal/risk"
	"defi-advisor/internal/scheduler"
	"defi-advisor/internal/storage"
)

const (
	claimEventHour   = 14
	claimEventWindow = 30 * time.Minute
	lockStripes      = 64
)

// Options wire the advisor's collaborators and tuning.
type Options struct {
	Scheduler *scheduler.Scheduler
	Oracle    gas.Reader
	Analyzer  risk.Assessor
	Positions positions.Lister
	Users     storage.UserStore
	Watches   storage.WatchStore
	Store     storage.PositionStore
	GasStore  storage.GasSampleStore
	State     dedup.Tracker
	Notifier  alerting.Notifier
	Calendar  calendar.Sink
	Locker    storage.AdvisoryLocker
	Logger    zerolog.Logger

	Lookahead       time.Duration
	Cooldown        time.Duration
	MaxConcurrent   int
	Retry           RetryPolicy
	AdvisoryLockKey int64
}

// Advisor evaluates every active user on a fixed tick.
type Advisor struct {
	opts     Options
	oracle   gas.Reader
	analyzer risk.Assessor
	lister   positions.Lister
	users    storage.UserStore
	watches  storage.WatchStore
	store    storage.PositionStore
	gasStore storage.GasSampleStore
	state    dedup.Tracker
	notifier alerting.Notifier
	calendar calendar.Sink
	locker   storage.AdvisoryLocker
	logger   zerolog.Logger
	clock    func() time.Time

	// keyLocks serialize notification transitions per dedup key.
	keyLocks [lockStripes]sync.Mutex

	mu       sync.Mutex
	inflight map[int64]struct{}
	sem      chan struct{}
	wg       sync.WaitGroup
}

// New constructs the advisor.
func New(opts Options) (*Advisor, error) {
	if opts.Oracle == nil {
		return nil, fmt.Errorf("gas oracle is required")
	}
	if opts.Analyzer == nil {
		return nil, fmt.Errorf("risk analyzer is required")
	}
	if opts.Positions == nil {
		return nil, fmt.Errorf("position lister is required")
	}
	if opts.Users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if opts.State == nil {
		return nil, fmt.Errorf("notification state tracker is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}

	if opts.Lookahead <= 0 {
		opts.Lookahead = 24 * time.Hour
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 6 * time.Hour
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	opts.Retry = opts.Retry.withDefaults()

	sink := opts.Calendar
	if sink == nil {
		sink = calendar.Noop{}
	}

	return &Advisor{
		opts:     opts,
		oracle:   opts.Oracle,
		analyzer: opts.Analyzer,
		lister:   opts.Positions,
		users:    opts.Users,
		watches:  opts.Watches,
		store:    opts.Store,
		gasStore: opts.GasStore,
		state:    opts.State,
		notifier: opts.Notifier,
		calendar: sink,
		locker:   opts.Locker,
		logger:   opts.Logger.With().Str("component", "advisor").Logger(),
		clock:    func() time.Time { return time.Now().UTC() },
		inflight: make(map[int64]struct{}),
		sem:      make(chan struct{}, opts.MaxConcurrent),
	}, nil
}

// Run drives ticks until ctx is cancelled, then waits for in-flight user
// evaluations to finish.
func (a *Advisor) Run(ctx context.Context) error {
	if a.opts.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	err := a.opts.Scheduler.Run(ctx, a.ProcessTick)
	a.Wait()
	return err
}

// Wait blocks until every launched user evaluation has finished.
func (a *Advisor) Wait() {
	a.wg.Wait()
}

// ProcessTick executes one advisory pass. User evaluations are launched
// concurrently and not waited for; a user still being evaluated when the
// next tick fires is skipped, never queued.
func (a *Advisor) ProcessTick(ctx context.Context, bucket time.Time) error {
	started := time.Now()

	unlock, proceed, err := a.acquireLock(ctx)
	if err != nil {
		metrics.TicksTotal.WithLabelValues("error").Inc()
		return err
	}
	if !proceed {
		metrics.TicksTotal.WithLabelValues("skipped_lock").Inc()
		a.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	err = a.runTick(ctx, bucket)
	metrics.TickDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.TicksTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	return nil
}

func (a *Advisor) runTick(ctx context.Context, bucket time.Time) error {
	reading, gasOK := a.sampleGas(ctx)

	users, err := a.users.ListActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}

	a.logger.Debug().Time("bucket", bucket).Int("users", len(users)).Msg("advisory tick fan-out")

	for _, user := range users {
		if !a.markInflight(user.ID) {
			metrics.UsersEvaluatedTotal.WithLabelValues("skipped_inflight").Inc()
			a.logger.Debug().Int64("user_id", user.ID).Msg("previous evaluation still in flight; skipping user")
			continue
		}

		a.sem <- struct{}{}
		a.wg.Add(1)
		go func(u storage.User) {
			defer a.wg.Done()
			defer func() { <-a.sem }()
			defer a.clearInflight(u.ID)
			defer func() {
				if r := recover(); r != nil {
					metrics.UsersEvaluatedTotal.WithLabelValues("panic").Inc()
					a.logger.Error().Interface("panic", r).Int64("user_id", u.ID).Msg("user evaluation panicked")
				}
			}()

			a.evaluateUser(ctx, u, reading, gasOK)
			metrics.UsersEvaluatedTotal.WithLabelValues("ok").Inc()
		}(user)
	}

	a.sweepClosedPositions(ctx)
	return nil
}

// sampleGas folds one fee observation into the oracle window and records it.
// Failure degrades the tick to claims/risk only; it never aborts the pass.
func (a *Advisor) sampleGas(ctx context.Context) (gas.Reading, bool) {
	var reading gas.Reading
	err := a.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var sampleErr error
		reading, sampleErr = a.oracle.Sample(ctx)
		return sampleErr
	})
	if err != nil {
		metrics.GasSamplesTotal.WithLabelValues(a.oracle.Chain(), "error").Inc()
		metrics.CollaboratorErrorsTotal.WithLabelValues("gas_fetch").Inc()
		a.logger.Error().Err(err).Str("chain", a.oracle.Chain()).Msg("gas sample unavailable for tick")
		return gas.Reading{}, false
	}

	status := "ok"
	if reading.Freshness == gas.FreshnessStale {
		status = "stale"
	}
	metrics.GasSamplesTotal.WithLabelValues(reading.Chain, status).Inc()
	fee, _ := reading.Fee.Float64()
	metrics.GasFeeGwei.WithLabelValues(reading.Chain).Set(fee)
	metrics.GasLevel.WithLabelValues(reading.Chain).Set(float64(reading.Level.Rank()))

	if a.gasStore != nil && reading.Freshness == gas.FreshnessFresh {
		if err := a.gasStore.InsertGasSample(ctx, reading.Chain, reading.Fee, reading.SampledAt); err != nil {
			a.logger.Warn().Err(err).Msg("failed to persist gas sample")
		}
	}
	return reading, true
}

// evaluateUser checks all event kinds for one user. Each kind fails in
// isolation; a risk-check error never blocks the user's claim reminders.
func (a *Advisor) evaluateUser(ctx context.Context, user storage.User, reading gas.Reading, gasOK bool) {
	if gasOK {
		a.evaluateGas(ctx, user, reading)
	}
	a.evaluatePositions(ctx, user)
	a.evaluateWatches(ctx, user)
}

func (a *Advisor) evaluateGas(ctx context.Context, user storage.User, reading gas.Reading) {
	threshold := gas.ParseLevel(user.GasAlertLevel)
	if reading.Level.Rank() > threshold.Rank() {
		return
	}

	lines := []string{
		fmt.Sprintf("Current fee: %s gwei (%s)", reading.Fee.StringFixed(1), reading.Level),
	}
	if reading.Freshness == gas.FreshnessStale {
		lines = append(lines, "Reading is stale; the fee provider was unreachable on the last fetch")
	}
	if reading.Spike {
		lines = append(lines, "Fee spike in progress; consider waiting it out")
	}
	if reading.Prediction.SampleCount > 0 {
		lines = append(lines, fmt.Sprintf("Cheapest hour lately: %02d:00 UTC (mean %s gwei, %s confidence)",
			reading.Prediction.Hour, reading.Prediction.MeanFee.StringFixed(1), reading.Prediction.Confidence))
	}

	a.deliver(ctx, user, Event{
		Kind:    KindGas,
		Key:     GasEventKey(reading.Chain),
		Subject: fmt.Sprintf("Gas is %s on %s", reading.Level, reading.Chain),
		Lines:   lines,
	})
}

func (a *Advisor) evaluatePositions(ctx context.Context, user storage.User) {
	list, err := a.lister.List(ctx, user.ID)
	if err != nil {
		metrics.CollaboratorErrorsTotal.WithLabelValues("storage").Inc()
		a.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to list positions")
		return
	}

	now := a.clock()
	horizon := now.Add(a.opts.Lookahead)
	for _, position := range list {
		due := positions.NextClaim(position)

		if !due.After(horizon) {
			accrued := positions.ProjectedYield(position, now)
			a.deliver(ctx, user, Event{
				Kind:    KindClaim,
				Key:     ClaimEventKey(position.ID),
				Subject: fmt.Sprintf("Claim window for %s %s", position.Protocol, position.Asset),
				Lines: []string{
					fmt.Sprintf("Next claim due %s", due.UTC().Format(time.RFC3339)),
					fmt.Sprintf("Accrued since last claim: ~%s %s", accrued.StringFixed(4), position.Asset),
				},
			})
		}

		a.syncCalendar(ctx, position, due)
	}
}

// syncCalendar upserts the claim reminder for one position. The external key
// is stable per position, so re-running can update but never duplicate.
func (a *Advisor) syncCalendar(ctx context.Context, position storage.Position, due time.Time) {
	if a.store == nil {
		return
	}

	op := "update"
	eventID := ""
	if position.CalendarEventID != nil {
		eventID = *position.CalendarEventID
	} else {
		op = "create"
	}

	start, end := claimSlot(due)
	event := calendar.Event{
		ExternalKey: CalendarExternalKey(position.ID),
		Title:       fmt.Sprintf("Claim %s %s rewards", position.Protocol, position.Asset),
		Description: fmt.Sprintf("Position %d claim eligible from %s", position.ID, due.UTC().Format(time.RFC3339)),
		StartsAt:    start,
		EndsAt:      end,
	}

	var newID string
	err := a.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var upsertErr error
		newID, upsertErr = a.calendar.UpsertEvent(ctx, eventID, event)
		return upsertErr
	})
	if err != nil {
		metrics.CalendarSyncsTotal.WithLabelValues(op, "error").Inc()
		metrics.CollaboratorErrorsTotal.WithLabelValues("calendar").Inc()
		a.logger.Error().Err(err).Int64("position_id", position.ID).Msg("calendar sync failed; will retry next tick")
		return
	}
	metrics.CalendarSyncsTotal.WithLabelValues(op, "ok").Inc()

	if eventID != newID {
		if err := a.store.SetCalendarEventID(ctx, position.ID, &newID); err != nil {
			a.logger.Error().Err(err).Int64("position_id", position.ID).Str("event_id", newID).Msg("failed to persist calendar event id")
		}
	}
}

// sweepClosedPositions consumes tombstones left by position removal: delete
// the remote calendar event, clear the link, then purge the row.
func (a *Advisor) sweepClosedPositions(ctx context.Context) {
	if a.store == nil {
		return
	}

	tombstones, err := a.store.ListClosedWithCalendar(ctx)
	if err != nil {
		metrics.CollaboratorErrorsTotal.WithLabelValues("storage").Inc()
		a.logger.Error().Err(err).Msg("failed to list closed positions for calendar cleanup")
		return
	}

	for _, position := range tombstones {
		eventID := *position.CalendarEventID

		err := a.opts.Retry.Do(ctx, func(ctx context.Context) error {
			return a.calendar.DeleteEvent(ctx, eventID)
		})
		if err != nil {
			metrics.CalendarSyncsTotal.WithLabelValues("delete", "error").Inc()
			metrics.CollaboratorErrorsTotal.WithLabelValues("calendar").Inc()
			a.logger.Error().Err(err).Int64("position_id", position.ID).Str("event_id", eventID).Msg("calendar delete failed; tombstone kept for next tick")
			continue
		}
		metrics.CalendarSyncsTotal.WithLabelValues("delete", "ok").Inc()

		if err := a.store.SetCalendarEventID(ctx, position.ID, nil); err != nil {
			a.logger.Error().Err(err).Int64("position_id", position.ID).Msg("failed to clear calendar link")
			continue
		}
		if err := a.store.PurgePosition(ctx, position.ID); err != nil {
			a.logger.Error().Err(err).Int64("position_id", position.ID).Msg("failed to purge closed position")
		}
		if err := a.state.Clear(ctx, position.UserID, KindClaim, ClaimEventKey(position.ID)); err != nil {
			a.logger.Warn().Err(err).Int64("position_id", position.ID).Msg("failed to clear claim notification state")
		}
	}
}

func (a *Advisor) evaluateWatches(ctx context.Context, user storage.User) {
	if a.watches == nil {
		return
	}

	watchList, err := a.watches.ListWatches(ctx, user.ID)
	if err != nil {
		metrics.CollaboratorErrorsTotal.WithLabelValues("storage").Inc()
		a.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to list watched contracts")
		return
	}

	for _, watch := range watchList {
		var assessment risk.Assessment
		err := a.opts.Retry.Do(ctx, func(ctx context.Context) error {
			var assessErr error
			assessment, assessErr = a.analyzer.Assess(ctx, watch.Address)
			return assessErr
		})
		if err != nil {
			metrics.AssessmentsTotal.WithLabelValues("unavailable").Inc()
			metrics.CollaboratorErrorsTotal.WithLabelValues("risk_check").Inc()
			a.logger.Error().Err(err).Int64("user_id", user.ID).Str("address", watch.Address).Msg("risk check failed; skipped for this tick")
			continue
		}
		metrics.AssessmentsTotal.WithLabelValues(assessmentStatus(assessment)).Inc()

		if !assessment.HighRisk(a.analyzer.HighRiskThreshold()) {
			continue
		}

		lines := []string{
			fmt.Sprintf("Risk score %d/100", assessment.Score),
		}
		for _, factor := range assessment.Factors {
			lines = append(lines, fmt.Sprintf("- %s (+%d)", factor.Name, factor.Weight))
		}
		if assessment.Stale {
			lines = append(lines, "Assessment is stale; the chain provider was unreachable on the last check")
		}

		a.deliver(ctx, user, Event{
			Kind:    KindRisk,
			Key:     RiskEventKey(assessment.Address),
			Subject: fmt.Sprintf("High risk contract %s", assessment.Address),
			Lines:   lines,
		})
	}
}

// deliver pushes one event through the per-key state machine and, when the
// transition lands on pending, sends exactly one notification.
func (a *Advisor) deliver(ctx context.Context, user storage.User, event Event) {
	lock := a.keyLock(user.ID, event.Kind, event.Key)
	lock.Lock()
	defer lock.Unlock()

	now := a.clock()
	marked, err := a.transition(ctx, user.ID, event, now)
	if err != nil {
		metrics.CollaboratorErrorsTotal.WithLabelValues("storage").Inc()
		a.logger.Error().Err(err).Int64("user_id", user.ID).Str("key", event.Key).Msg("notification state transition failed")
		return
	}
	if !marked {
		metrics.NotificationsDedupedTotal.WithLabelValues(event.Kind).Inc()
		a.logger.Debug().Int64("user_id", user.ID).Str("key", event.Key).Msg("condition holds but cooldown active; suppressed")
		return
	}

	note := alerting.Notification{
		UserID:  user.ID,
		ChatID:  user.ChatID,
		Kind:    event.Kind,
		Subject: event.Subject,
		Lines:   event.Lines,
		At:      now,
	}
	err = a.opts.Retry.Do(ctx, func(ctx context.Context) error {
		return a.notifier.Notify(ctx, note)
	})
	if err != nil {
		metrics.NotificationsFailedTotal.WithLabelValues(event.Kind).Inc()
		metrics.CollaboratorErrorsTotal.WithLabelValues("notifier").Inc()
		a.logger.Error().Err(err).Int64("user_id", user.ID).Str("key", event.Key).Msg("notification delivery failed; releasing cooldown slot")
		// Release the mark so the next tick can retry instead of silently
		// consuming the cooldown window.
		if clearErr := a.state.Clear(ctx, user.ID, event.Kind, event.Key); clearErr != nil {
			a.logger.Error().Err(clearErr).Int64("user_id", user.ID).Str("key", event.Key).Msg("failed to release cooldown slot")
		}
		return
	}

	metrics.NotificationsSentTotal.WithLabelValues(event.Kind).Inc()
	a.logger.Info().Int64("user_id", user.ID).Str("kind", event.Kind).Str("key", event.Key).Msg("advisory notification sent")
}

// transition reads the recorded state and attempts the pending->notified
// mark. A state conflict is retried once after a re-read, then surfaced.
func (a *Advisor) transition(ctx context.Context, userID int64, event Event, now time.Time) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		last, has, err := a.state.LastNotified(ctx, userID, event.Kind, event.Key)
		if err != nil {
			return false, fmt.Errorf("read notification state: %w", err)
		}
		if NextState(true, last, has, now, a.opts.Cooldown) != StatePending {
			return false, nil
		}

		marked, err := a.state.TryMark(ctx, userID, event.Kind, event.Key, now, a.opts.Cooldown)
		if err != nil {
			if errors.Is(err, dedup.ErrStateConflict) && attempt == 0 {
				continue
			}
			return false, fmt.Errorf("mark notification state: %w", err)
		}
		return marked, nil
	}
	return false, nil
}

func (a *Advisor) keyLock(userID int64, kind, key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(dedup.Key(userID, kind, key)))
	return &a.keyLocks[h.Sum32()%lockStripes]
}

func (a *Advisor) markInflight(userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inflight[userID]; busy {
		return false
	}
	a.inflight[userID] = struct{}{}
	return true
}

func (a *Advisor) clearInflight(userID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inflight, userID)
}

func (a *Advisor) acquireLock(ctx context.Context) (func(), bool, error) {
	if a.opts.AdvisoryLockKey == 0 || a.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := a.locker.TryAdvisoryLock(ctx, a.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// claimSlot places the reminder at a fixed afternoon slot on the due date.
func claimSlot(due time.Time) (time.Time, time.Time) {
	due = due.UTC()
	start := time.Date(due.Year(), due.Month(), due.Day(), claimEventHour, 0, 0, 0, time.UTC)
	return start, start.Add(claimEventWindow)
}

func assessmentStatus(assessment risk.Assessment) string {
	switch {
	case assessment.Stale:
		return "stale"
	case assessment.FromCache:
		return "cached"
	default:
		return "fresh"
	}
}
