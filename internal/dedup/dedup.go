// Package dedup tracks per-user notification state so a persisting condition
// alerts once per cooldown window instead of on every evaluation pass.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStateConflict reports a concurrent transition on the same key. Callers
// should re-read and retry once before giving up.
var ErrStateConflict = errors.New("dedup: state conflict")

// Tracker records when a (user, kind, key) notification last fired.
type Tracker interface {
	// LastNotified returns the recorded notification time and whether one exists.
	LastNotified(ctx context.Context, userID int64, kind, key string) (time.Time, bool, error)
	// TryMark atomically records a notification at `at` unless one already
	// fired within the cooldown. Returns false when suppressed.
	TryMark(ctx context.Context, userID int64, kind, key string, at time.Time, cooldown time.Duration) (bool, error)
	// Clear removes the key so the alert can fire again once the condition
	// re-arms.
	Clear(ctx context.Context, userID int64, kind, key string) error
}

// Key builds the canonical dedup key for a (user, kind, key) triple.
func Key(userID int64, kind, key string) string {
	return fmt.Sprintf("advisor:notify:%d:%s:%s", userID, kind, key)
}

// Memory is an in-process Tracker for tests and single-node runs without
// postgres or redis.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemory constructs an empty in-memory tracker.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]time.Time)}
}

var _ Tracker = (*Memory)(nil)

// LastNotified returns the recorded notification time for the key.
func (m *Memory) LastNotified(_ context.Context, userID int64, kind, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at, ok := m.entries[Key(userID, kind, key)]
	return at, ok, nil
}

// TryMark records a notification unless one landed within the cooldown.
func (m *Memory) TryMark(_ context.Context, userID int64, kind, key string, at time.Time, cooldown time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := Key(userID, kind, key)
	if last, ok := m.entries[k]; ok && cooldown > 0 && last.After(at.Add(-cooldown)) {
		return false, nil
	}
	m.entries[k] = at
	return true, nil
}

// Clear drops the key.
func (m *Memory) Clear(_ context.Context, userID int64, kind, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, Key(userID, kind, key))
	return nil
}
