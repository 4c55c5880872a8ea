package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextBucketAligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2025, 6, 1, 12, 3, 17, 0, time.UTC)
	next := s.nextBucket(now)
	want := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("nextBucket = %s, want %s", next, want)
	}

	// exactly on a boundary still moves to the next bucket
	next = s.nextBucket(want)
	if !next.Equal(want.Add(5 * time.Minute)) {
		t.Fatalf("nextBucket on boundary = %s, want %s", next, want.Add(5*time.Minute))
	}
}

func TestNextBucketUnaligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute}, zerolog.Nop())

	now := time.Date(2025, 6, 1, 12, 3, 17, 0, time.UTC)
	if got := s.nextBucket(now); !got.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("nextBucket = %s, want %s", got, now.Add(5*time.Minute))
	}
}

func TestRunInvokesTick(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticked := make(chan time.Time, 1)
	go func() {
		_ = s.Run(ctx, func(_ context.Context, bucket time.Time) error {
			select {
			case ticked <- bucket:
			default:
			}
			return nil
		})
	}()

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("tick was not invoked")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(context.Context, time.Time) error { return nil })
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
