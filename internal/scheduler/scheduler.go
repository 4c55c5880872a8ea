package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval with the bucket start time.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives the periodic advisory passes.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function once per interval until ctx is
// cancelled. A pass that overruns its interval causes the missed buckets to
// be skipped, never replayed.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleepUntil(ctx, time.Now().Add(s.opts.StartupDelay)); err != nil {
			return err
		}
	}

	next := s.nextBucket(time.Now().UTC())
	for {
		if now := time.Now().UTC(); now.After(next) {
			fresh := s.nextBucket(now)
			if missed := int(fresh.Sub(next) / s.opts.Interval); missed > 0 {
				s.logger.Warn().
					Int("missed_buckets", missed).
					Time("resume_bucket", fresh).
					Msg("previous pass overran the interval, skipping missed buckets")
			}
			next = fresh
		}

		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")
		if err := s.sleepUntil(ctx, next); err != nil {
			return err
		}

		s.logger.Info().Time("bucket", next).Msg("starting advisory pass")
		if err := tick(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("bucket", next).Msg("advisory pass failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) sleepUntil(ctx context.Context, t time.Time) error {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nextBucket returns the first bucket strictly after now. Aligned buckets
// start on multiples of the interval so that two replicas agree on bucket
// identity.
func (s *Scheduler) nextBucket(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}
