package gas

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"defi-advisor/internal/fetcher"
)

type stubProvider struct {
	fees []decimal.Decimal
	errs []error
	idx  int
}

func (s *stubProvider) CurrentFee(ctx context.Context) (decimal.Decimal, error) {
	i := s.idx
	s.idx++
	if i < len(s.errs) && s.errs[i] != nil {
		return decimal.Decimal{}, s.errs[i]
	}
	if i >= len(s.fees) {
		i = len(s.fees) - 1
	}
	return s.fees[i], nil
}

func feeList(values ...int64) []decimal.Decimal {
	fees := make([]decimal.Decimal, len(values))
	for i, v := range values {
		fees[i] = decimal.NewFromInt(v)
	}
	return fees
}

func newTestOracle(opts Options, provider fetcher.GasFeeProvider) *Oracle {
	o := New(opts, provider, zerolog.Nop())
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	o.clock = func() time.Time {
		t := base.Add(time.Duration(step) * 5 * time.Minute)
		step++
		return t
	}
	return o
}

func TestLevelMonotonicInFee(t *testing.T) {
	provider := &stubProvider{fees: feeList(10, 20, 30, 40, 50, 60, 70, 80, 90, 100)}
	o := newTestOracle(Options{}, provider)

	for i := 0; i < 10; i++ {
		if _, err := o.Sample(context.Background()); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
	}

	prev := -1
	for fee := int64(5); fee <= 120; fee += 5 {
		level := o.ClassifyFee(decimal.NewFromInt(fee))
		if level.Rank() < prev {
			t.Fatalf("fee %d classified cheaper than a lower fee on the same window", fee)
		}
		prev = level.Rank()
	}

	if o.ClassifyFee(decimal.NewFromInt(5)) != LevelCheap {
		t.Fatal("fee below the whole window should be cheap")
	}
	if o.ClassifyFee(decimal.NewFromInt(120)) != LevelExpensive {
		t.Fatal("fee above the whole window should be expensive")
	}
}

func TestWindowEvictionBound(t *testing.T) {
	provider := &stubProvider{fees: feeList(10)}
	o := newTestOracle(Options{MaxSamples: 5}, provider)

	for i := 0; i < 50; i++ {
		if _, err := o.Sample(context.Background()); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if size := o.WindowSize(); size > 5 {
			t.Fatalf("window size %d exceeds bound after insert %d", size, i)
		}
	}
	if o.WindowSize() != 5 {
		t.Fatalf("expected full window of 5, got %d", o.WindowSize())
	}
}

func TestWindowAgeEviction(t *testing.T) {
	provider := &stubProvider{fees: feeList(10)}
	o := New(Options{MaxAge: time.Hour}, provider, zerolog.Nop())

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(30 * time.Minute), base.Add(2 * time.Hour)}
	step := 0
	o.clock = func() time.Time {
		t := times[step]
		step++
		return t
	}

	for i := 0; i < 3; i++ {
		if _, err := o.Sample(context.Background()); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
	}

	// The first two samples are older than MaxAge relative to the third.
	if o.WindowSize() != 1 {
		t.Fatalf("expected aged samples evicted, window=%d", o.WindowSize())
	}
}

func TestStaleFallbackThenUnavailable(t *testing.T) {
	boom := errors.New("rpc down")
	provider := &stubProvider{fees: feeList(25), errs: []error{boom}}
	o := newTestOracle(Options{}, provider)

	if _, err := o.Sample(context.Background()); !errors.Is(err, fetcher.ErrDataUnavailable) {
		t.Fatalf("first failure with empty window should be DataUnavailable, got %v", err)
	}

	reading, err := o.Sample(context.Background())
	if err != nil {
		t.Fatalf("successful sample: %v", err)
	}
	if reading.Freshness != FreshnessFresh {
		t.Fatalf("live fetch should be fresh, got %s", reading.Freshness)
	}

	provider.errs = append(provider.errs, nil, boom)
	stale, err := o.Sample(context.Background())
	if err != nil {
		t.Fatalf("failure with cached reading should degrade, got %v", err)
	}
	if stale.Freshness != FreshnessStale {
		t.Fatalf("expected stale reading, got %s", stale.Freshness)
	}
	if !stale.Fee.Equal(reading.Fee) {
		t.Fatalf("stale reading should carry last fee %s, got %s", reading.Fee, stale.Fee)
	}
}

func TestPredictionConfidenceThinHistory(t *testing.T) {
	provider := &stubProvider{fees: feeList(30, 31, 32)}
	o := newTestOracle(Options{MinPredictionSamples: 12}, provider)

	var reading Reading
	var err error
	for i := 0; i < 3; i++ {
		reading, err = o.Sample(context.Background())
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
	}

	if reading.Prediction.Confidence != ConfidenceLow {
		t.Fatalf("3 samples must predict with low confidence, got %s", reading.Prediction.Confidence)
	}
	if reading.Prediction.Hour < 0 {
		t.Fatal("prediction should still carry an estimate")
	}
}

func TestPredictionPicksLowestHour(t *testing.T) {
	provider := &stubProvider{fees: feeList(50)}
	o := New(Options{MinPredictionSamples: 4}, provider, zerolog.Nop())

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	o.clock = func() time.Time { return base.Add(26 * time.Hour) }

	// Hour 3 carries the cheapest mean.
	for hour := 0; hour < 6; hour++ {
		fee := decimal.NewFromInt(40)
		if hour == 3 {
			fee = decimal.NewFromInt(15)
		}
		o.Warm([]Sample{
			{At: base.Add(time.Duration(hour) * time.Hour), Fee: fee},
			{At: base.Add(time.Duration(hour)*time.Hour + 20*time.Minute), Fee: fee},
		})
	}

	reading, err := o.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if reading.Prediction.Hour != 3 {
		t.Fatalf("expected hour 3 as cheapest, got %d", reading.Prediction.Hour)
	}
	if !reading.Prediction.WindowStart.After(base.Add(26 * time.Hour)) {
		t.Fatal("predicted window must start in the future")
	}
	if reading.Prediction.Confidence == ConfidenceLow {
		t.Fatalf("13 samples over minimum 4 should not be low confidence")
	}
}

func TestSpikeAnnotation(t *testing.T) {
	provider := &stubProvider{fees: feeList(150)}
	o := newTestOracle(Options{}, provider)

	reading, err := o.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !reading.Spike {
		t.Fatal("150 gwei should trip the spike annotation")
	}
}
