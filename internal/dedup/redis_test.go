package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupRedisTracker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	tracker, err := NewRedis("redis://"+mr.Addr(), "")
	if err != nil {
		mr.Close()
		t.Fatalf("NewRedis: %v", err)
	}
	return tracker, mr
}

func TestRedisTryMarkSuppressedWithinCooldown(t *testing.T) {
	tracker, mr := setupRedisTracker(t)
	defer mr.Close()
	defer tracker.Close()

	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ok, err := tracker.TryMark(ctx, 1, "gas", "gas-ethereum", at, time.Hour)
	if err != nil || !ok {
		t.Fatalf("first TryMark should succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = tracker.TryMark(ctx, 1, "gas", "gas-ethereum", at.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("TryMark returned error: %v", err)
	}
	if ok {
		t.Fatal("TryMark inside cooldown should be suppressed")
	}

	stored, found, err := tracker.LastNotified(ctx, 1, "gas", "gas-ethereum")
	if err != nil || !found {
		t.Fatalf("expected stored record, got found=%v err=%v", found, err)
	}
	if !stored.Equal(at) {
		t.Fatalf("expected stored time %s, got %s", at, stored)
	}
}

func TestRedisCooldownExpiresKey(t *testing.T) {
	tracker, mr := setupRedisTracker(t)
	defer mr.Close()
	defer tracker.Close()

	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if ok, _ := tracker.TryMark(ctx, 1, "claim", "pos-7", at, time.Hour); !ok {
		t.Fatal("first TryMark should succeed")
	}

	mr.FastForward(time.Hour + time.Second)

	ok, err := tracker.TryMark(ctx, 1, "claim", "pos-7", at.Add(time.Hour+time.Second), time.Hour)
	if err != nil || !ok {
		t.Fatalf("TryMark after TTL expiry should succeed, got ok=%v err=%v", ok, err)
	}
}

func TestRedisClearRearms(t *testing.T) {
	tracker, mr := setupRedisTracker(t)
	defer mr.Close()
	defer tracker.Close()

	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if ok, _ := tracker.TryMark(ctx, 1, "risk", "risk-0xdead", at, time.Hour); !ok {
		t.Fatal("first TryMark should succeed")
	}
	if err := tracker.Clear(ctx, 1, "risk", "risk-0xdead"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}

	if _, found, _ := tracker.LastNotified(ctx, 1, "risk", "risk-0xdead"); found {
		t.Fatal("record should be gone after Clear")
	}
	if ok, _ := tracker.TryMark(ctx, 1, "risk", "risk-0xdead", at.Add(time.Minute), time.Hour); !ok {
		t.Fatal("TryMark after Clear should succeed")
	}
}
