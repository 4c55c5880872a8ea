package gas

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"defi-advisor/internal/fetcher"
)

// Level classifies the current fee against the rolling window.
type Level string

const (
	LevelCheap     Level = "cheap"
	LevelNormal    Level = "normal"
	LevelExpensive Level = "expensive"
)

// Rank orders levels from cheapest to most expensive.
func (l Level) Rank() int {
	switch l {
	case LevelCheap:
		return 0
	case LevelNormal:
		return 1
	case LevelExpensive:
		return 2
	default:
		return 1
	}
}

// ParseLevel maps a config string onto a Level, defaulting to cheap.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelCheap, LevelNormal, LevelExpensive:
		return Level(s)
	default:
		return LevelCheap
	}
}

// Freshness labels whether a reading reflects a live fetch.
type Freshness string

const (
	FreshnessFresh Freshness = "fresh"
	FreshnessStale Freshness = "stale"
)

// Confidence grades the prediction by how much history backs it.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Sample is one observed fee point.
type Sample struct {
	At  time.Time
	Fee decimal.Decimal
}

// Prediction is the heuristic next-low-fee window. Advisory only.
type Prediction struct {
	Hour        int             `json:"hour"`
	WindowStart time.Time       `json:"window_start"`
	MeanFee     decimal.Decimal `json:"mean_fee"`
	Confidence  Confidence      `json:"confidence"`
	SampleCount int             `json:"sample_count"`
}

// Reading is the oracle output for one sampling round.
type Reading struct {
	Chain      string          `json:"chain"`
	Fee        decimal.Decimal `json:"fee_gwei"`
	Level      Level           `json:"level"`
	Freshness  Freshness       `json:"freshness"`
	SampledAt  time.Time       `json:"sampled_at"`
	Spike      bool            `json:"spike"`
	Prediction Prediction      `json:"prediction"`
}

// Options tune the rolling window and classification thresholds.
type Options struct {
	Chain                string
	MaxSamples           int
	MaxAge               time.Duration
	CheapPercentile      float64
	ExpensivePercentile  float64
	MinPredictionSamples int
	SpikeThreshold       decimal.Decimal
}

func (o Options) withDefaults() Options {
	if o.Chain == "" {
		o.Chain = "ethereum"
	}
	if o.MaxSamples <= 0 {
		o.MaxSamples = 288
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 24 * time.Hour
	}
	if o.CheapPercentile <= 0 {
		o.CheapPercentile = 25
	}
	if o.ExpensivePercentile <= 0 {
		o.ExpensivePercentile = 75
	}
	if o.MinPredictionSamples <= 0 {
		o.MinPredictionSamples = 12
	}
	if o.SpikeThreshold.IsZero() {
		o.SpikeThreshold = decimal.NewFromInt(100)
	}
	return o
}

// Reader is the advisory-facing view of the oracle.
type Reader interface {
	Chain() string
	Sample(ctx context.Context) (Reading, error)
	Last() (Reading, bool)
}

// Oracle maintains the rolling fee window and derives advisory readings.
// Safe for concurrent use; writes happen only inside Sample and Warm.
type Oracle struct {
	opts     Options
	provider fetcher.GasFeeProvider
	logger   zerolog.Logger
	clock    func() time.Time

	mu      sync.RWMutex
	samples []Sample
	last    *Reading
}

// New constructs an Oracle over the given fee provider.
func New(opts Options, provider fetcher.GasFeeProvider, logger zerolog.Logger) *Oracle {
	return &Oracle{
		opts:     opts.withDefaults(),
		provider: provider,
		logger:   logger.With().Str("component", "gas_oracle").Logger(),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Chain returns the chain identifier this oracle samples.
func (o *Oracle) Chain() string {
	return o.opts.Chain
}

// Sample fetches the current fee, folds it into the window, and classifies it.
// On fetch failure the last reading is returned marked stale; with no prior
// reading the failure escalates.
func (o *Oracle) Sample(ctx context.Context) (Reading, error) {
	fee, err := o.provider.CurrentFee(ctx)
	if err != nil {
		o.mu.RLock()
		last := o.last
		o.mu.RUnlock()

		if last != nil {
			stale := *last
			stale.Freshness = FreshnessStale
			o.logger.Warn().Err(err).Str("chain", o.opts.Chain).Msg("fee fetch failed; serving stale reading")
			return stale, nil
		}
		return Reading{}, fmt.Errorf("%w: %v", fetcher.ErrDataUnavailable, err)
	}

	now := o.clock()

	o.mu.Lock()
	defer o.mu.Unlock()

	o.samples = append(o.samples, Sample{At: now, Fee: fee})
	o.evictLocked(now)

	reading := Reading{
		Chain:      o.opts.Chain,
		Fee:        fee,
		Level:      o.classifyLocked(fee),
		Freshness:  FreshnessFresh,
		SampledAt:  now,
		Spike:      fee.GreaterThan(o.opts.SpikeThreshold),
		Prediction: o.predictLocked(now),
	}
	o.last = &reading

	o.logger.Debug().
		Str("chain", o.opts.Chain).
		Str("fee_gwei", fee.String()).
		Str("level", string(reading.Level)).
		Int("window", len(o.samples)).
		Msg("fee sampled")

	return reading, nil
}

// Last returns the most recent reading without touching the provider.
func (o *Oracle) Last() (Reading, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return Reading{}, false
	}
	return *o.last, true
}

// WindowSize reports the current number of retained samples.
func (o *Oracle) WindowSize() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.samples)
}

// ClassifyFee grades an arbitrary fee against the current window.
func (o *Oracle) ClassifyFee(fee decimal.Decimal) Level {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.classifyLocked(fee)
}

// Warm seeds the window from persisted history, oldest first. Samples beyond
// the retention bound are dropped the same way live eviction would.
func (o *Oracle) Warm(samples []Sample) {
	if len(samples) == 0 {
		return
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	now := o.clock()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples = append(o.samples, sorted...)
	sort.Slice(o.samples, func(i, j int) bool { return o.samples[i].At.Before(o.samples[j].At) })
	o.evictLocked(now)
	o.logger.Info().Int("window", len(o.samples)).Msg("gas window warmed from history")
}

func (o *Oracle) evictLocked(now time.Time) {
	cutoff := now.Add(-o.opts.MaxAge)
	start := 0
	for start < len(o.samples) && o.samples[start].At.Before(cutoff) {
		start++
	}
	if over := len(o.samples) - start - o.opts.MaxSamples; over > 0 {
		start += over
	}
	if start > 0 {
		o.samples = append(o.samples[:0], o.samples[start:]...)
	}
}

// classifyLocked computes the percentile rank of fee within the window and
// maps it onto a level. Rank uses the midrank convention so identical fees
// land on 50 rather than an edge.
func (o *Oracle) classifyLocked(fee decimal.Decimal) Level {
	n := len(o.samples)
	if n == 0 {
		return LevelNormal
	}

	below, equal := 0, 0
	for _, s := range o.samples {
		switch s.Fee.Cmp(fee) {
		case -1:
			below++
		case 0:
			equal++
		}
	}

	rank := (float64(below) + 0.5*float64(equal)) / float64(n) * 100
	switch {
	case rank <= o.opts.CheapPercentile:
		return LevelCheap
	case rank >= o.opts.ExpensivePercentile:
		return LevelExpensive
	default:
		return LevelNormal
	}
}

// predictLocked picks the hour of day with the lowest mean fee over the
// window. Thin history lowers the confidence, never suppresses the estimate.
func (o *Oracle) predictLocked(now time.Time) Prediction {
	sums := make(map[int]decimal.Decimal)
	counts := make(map[int]int)
	for _, s := range o.samples {
		hour := s.At.UTC().Hour()
		sums[hour] = sums[hour].Add(s.Fee)
		counts[hour]++
	}

	bestHour := -1
	var bestMean decimal.Decimal
	for hour := 0; hour < 24; hour++ {
		count := counts[hour]
		if count == 0 {
			continue
		}
		mean := sums[hour].Div(decimal.NewFromInt(int64(count)))
		if bestHour == -1 || mean.LessThan(bestMean) {
			bestHour = hour
			bestMean = mean
		}
	}

	total := len(o.samples)
	confidence := ConfidenceLow
	switch {
	case total >= 3*o.opts.MinPredictionSamples:
		confidence = ConfidenceHigh
	case total >= o.opts.MinPredictionSamples:
		confidence = ConfidenceMedium
	}

	if bestHour == -1 {
		return Prediction{Hour: -1, Confidence: ConfidenceLow}
	}

	return Prediction{
		Hour:        bestHour,
		WindowStart: nextHourOccurrence(now, bestHour),
		MeanFee:     bestMean,
		Confidence:  confidence,
		SampleCount: total,
	}
}

func nextHourOccurrence(now time.Time, hour int) time.Time {
	now = now.UTC()
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !candidate.After(now) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate
}

var _ Reader = (*Oracle)(nil)
