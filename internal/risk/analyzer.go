package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"defi-advisor/internal/fetcher"
	"defi-advisor/internal/storage"
)

// Named factor weights. Kept as an explicit table so a score can always be
// explained factor by factor.
const (
	weightUnverified  = 30
	weightHoneypot    = 40
	weightProbeRevert = 15
	weightNoHistory   = 10
	weightRenounced   = 5
)

const (
	FactorUnverified  = "unverified source"
	FactorHoneypot    = "simulated honeypot signal"
	FactorProbeRevert = "read probe reverted"
	FactorNoHistory   = "no prior assessment history"
	FactorRenounced   = "ownership renounced"
)

// Simulation outcome labels persisted with each assessment.
const (
	OutcomeSuccess  = "success"
	OutcomeRevert   = "revert"
	OutcomeHoneypot = "honeypot-signal"
)

// Factor is one named contribution to the risk score.
type Factor struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
	Detail string `json:"detail,omitempty"`
}

// Assessment is the analyzer output for one contract address.
type Assessment struct {
	Address   string    `json:"address"`
	Score     int       `json:"score"`
	Factors   []Factor  `json:"factors"`
	Verified  bool      `json:"verified"`
	Outcome   string    `json:"outcome"`
	FromCache bool      `json:"from_cache"`
	Stale     bool      `json:"stale"`
	CheckedAt time.Time `json:"checked_at"`
}

// HighRisk reports whether the score clears the configured alert threshold.
func (a Assessment) HighRisk(threshold int) bool {
	return a.Score >= threshold
}

// Options tune cache TTLs and the high-risk boundary.
type Options struct {
	HighRiskTTL       time.Duration
	LowRiskTTL        time.Duration
	HighRiskThreshold int
}

func (o Options) withDefaults() Options {
	if o.HighRiskTTL <= 0 {
		o.HighRiskTTL = time.Hour
	}
	if o.LowRiskTTL <= 0 {
		o.LowRiskTTL = 24 * time.Hour
	}
	if o.HighRiskThreshold <= 0 {
		o.HighRiskThreshold = 70
	}
	return o
}

// Assessor is the advisory-facing view of the analyzer.
type Assessor interface {
	Assess(ctx context.Context, address string) (Assessment, error)
	HighRiskThreshold() int
}

// Analyzer combines verification metadata and simulated probes into a
// bounded risk score. Assessments are cached per address; high-risk entries
// expire sooner so the worrying cases get re-checked first.
type Analyzer struct {
	opts     Options
	chain    fetcher.ChainReader
	verifier fetcher.SourceVerifier
	history  storage.AssessmentStore
	logger   zerolog.Logger
	clock    func() time.Time

	mu    sync.RWMutex
	cache map[string]Assessment
}

// New constructs an Analyzer. The history store may be nil; prior-history
// checks then rely on the in-memory cache alone.
func New(opts Options, chain fetcher.ChainReader, verifier fetcher.SourceVerifier, history storage.AssessmentStore, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		opts:     opts.withDefaults(),
		chain:    chain,
		verifier: verifier,
		history:  history,
		logger:   logger.With().Str("component", "risk_analyzer").Logger(),
		clock:    func() time.Time { return time.Now().UTC() },
		cache:    make(map[string]Assessment),
	}
}

// HighRiskThreshold exposes the configured alert boundary.
func (a *Analyzer) HighRiskThreshold() int {
	return a.opts.HighRiskThreshold
}

// Assess returns the risk assessment for address, serving from cache while
// the entry is live. Collaborator failures degrade to the cached entry
// marked stale; with nothing cached they escalate to DataUnavailable.
func (a *Analyzer) Assess(ctx context.Context, address string) (Assessment, error) {
	normalized, err := fetcher.NormalizeAddress(address)
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: %s", fetcher.ErrInvalidAddress, address)
	}

	now := a.clock()

	a.mu.RLock()
	cached, ok := a.cache[normalized]
	a.mu.RUnlock()
	if ok && now.Before(a.expiry(cached)) {
		cached.FromCache = true
		return cached, nil
	}

	assessment, err := a.gather(ctx, normalized, now)
	if err != nil {
		if ok {
			cached.FromCache = true
			cached.Stale = true
			a.logger.Warn().Err(err).Str("address", normalized).Msg("probe failed; serving stale assessment")
			return cached, nil
		}
		return Assessment{}, err
	}

	// Last successful fetch wins.
	a.mu.Lock()
	a.cache[normalized] = assessment
	a.mu.Unlock()

	if a.history != nil {
		record := storage.AssessmentRecord{
			Address:   assessment.Address,
			Verified:  assessment.Verified,
			Outcome:   assessment.Outcome,
			Score:     assessment.Score,
			Factors:   factorNames(assessment.Factors),
			CheckedAt: assessment.CheckedAt,
		}
		if err := a.history.SaveAssessment(ctx, record); err != nil {
			a.logger.Error().Err(err).Str("address", normalized).Msg("failed to persist assessment")
		}
	}

	return assessment, nil
}

// Cached returns the live cache entry for address, if any.
func (a *Analyzer) Cached(address string) (Assessment, bool) {
	normalized, err := fetcher.NormalizeAddress(address)
	if err != nil {
		return Assessment{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	cached, ok := a.cache[normalized]
	if !ok {
		return Assessment{}, false
	}
	cached.FromCache = true
	return cached, true
}

func (a *Analyzer) gather(ctx context.Context, address string, now time.Time) (Assessment, error) {
	meta, err := a.chain.ContractMeta(ctx, address)
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: contract meta: %v", fetcher.ErrDataUnavailable, err)
	}
	if !meta.HasCode {
		return Assessment{}, fmt.Errorf("%w: no contract code at %s", fetcher.ErrInvalidAddress, address)
	}

	verified, err := a.verifier.SourceVerified(ctx, address)
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: verification status: %v", fetcher.ErrDataUnavailable, err)
	}

	read, err := a.chain.SimulateCall(ctx, address, fetcher.PackTotalSupply())
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: read probe: %v", fetcher.ErrDataUnavailable, err)
	}

	transfer, err := a.chain.SimulateCall(ctx, address, fetcher.PackTransferProbe())
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: transfer probe: %v", fetcher.ErrDataUnavailable, err)
	}

	renounced := false
	ownerRes, err := a.chain.SimulateCall(ctx, address, fetcher.PackOwnerCall())
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: owner probe: %v", fetcher.ErrDataUnavailable, err)
	}
	if !ownerRes.Reverted && len(ownerRes.ReturnData) > 0 {
		if owner, err := fetcher.UnpackOwner(ownerRes.ReturnData); err == nil {
			renounced = owner == (common.Address{})
		}
	}

	factors := make([]Factor, 0, 5)
	outcome := OutcomeSuccess

	if !verified {
		factors = append(factors, Factor{Name: FactorUnverified, Weight: weightUnverified})
	}
	if read.Reverted {
		outcome = OutcomeRevert
		factors = append(factors, Factor{Name: FactorProbeRevert, Weight: weightProbeRevert, Detail: read.Reason})
	}
	if !read.Reverted && transfer.Reverted {
		outcome = OutcomeHoneypot
		factors = append(factors, Factor{Name: FactorHoneypot, Weight: weightHoneypot, Detail: transfer.Reason})
	}
	if renounced {
		factors = append(factors, Factor{Name: FactorRenounced, Weight: weightRenounced})
	}
	if !a.hasHistory(ctx, address) {
		factors = append(factors, Factor{Name: FactorNoHistory, Weight: weightNoHistory})
	}

	assessment := Assessment{
		Address:   address,
		Score:     clampScore(totalWeight(factors)),
		Factors:   factors,
		Verified:  verified,
		Outcome:   outcome,
		CheckedAt: now,
	}

	a.logger.Info().
		Str("address", address).
		Int("score", assessment.Score).
		Bool("verified", verified).
		Str("outcome", outcome).
		Msg("contract assessed")

	return assessment, nil
}

// hasHistory reports whether any prior assessment exists for address, in
// memory or persisted.
func (a *Analyzer) hasHistory(ctx context.Context, address string) bool {
	a.mu.RLock()
	_, ok := a.cache[address]
	a.mu.RUnlock()
	if ok {
		return true
	}
	if a.history == nil {
		return false
	}
	has, err := a.history.HasAssessment(ctx, address)
	if err != nil {
		a.logger.Warn().Err(err).Str("address", address).Msg("history lookup failed; assuming none")
		return false
	}
	return has
}

func (a *Analyzer) expiry(assessment Assessment) time.Time {
	ttl := a.opts.LowRiskTTL
	if assessment.Score >= a.opts.HighRiskThreshold {
		ttl = a.opts.HighRiskTTL
	}
	return assessment.CheckedAt.Add(ttl)
}

func totalWeight(factors []Factor) int {
	total := 0
	for _, f := range factors {
		total += f.Weight
	}
	return total
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func factorNames(factors []Factor) []string {
	names := make([]string, len(factors))
	for i, f := range factors {
		names[i] = f.Name
	}
	return names
}

var _ Assessor = (*Analyzer)(nil)
