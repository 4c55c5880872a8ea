package advisor

import (
	"context"
	"errors"
	"time"

	"defi-advisor/internal/fetcher"
	"defi-advisor/internal/positions"
)

// RetryPolicy bounds collaborator retries with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

// delay returns the backoff before retry number `retry` (1-based), doubling
// from BaseDelay and capped at MaxDelay.
func (p RetryPolicy) delay(retry int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs op, retrying transient failures up to MaxAttempts. Invalid-input
// failures are surfaced immediately; retrying them cannot succeed.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func permanent(err error) bool {
	return errors.Is(err, fetcher.ErrInvalidAddress) ||
		errors.Is(err, positions.ErrInvalidPosition) ||
		errors.Is(err, context.Canceled)
}
