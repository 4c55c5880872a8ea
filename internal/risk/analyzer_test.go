package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"defi-advisor/internal/fetcher"
)

const contractAddr = "0x1000000000000000000000000000000000000001"

// ownedWord encodes a non-zero owner address so clean contracts do not trip
// the renounced-ownership factor.
func ownedWord() []byte {
	word := make([]byte, 32)
	word[31] = 0x01
	return word
}

type fakeChain struct {
	metaFn     func(address string) (fetcher.ContractMeta, error)
	simulateFn func(address string, payload []byte) (fetcher.SimulationOutcome, error)
}

func (f *fakeChain) CurrentFee(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Decimal{}, errors.New("not implemented")
}

func (f *fakeChain) ContractMeta(ctx context.Context, address string) (fetcher.ContractMeta, error) {
	return f.metaFn(address)
}

func (f *fakeChain) SimulateCall(ctx context.Context, address string, payload []byte) (fetcher.SimulationOutcome, error) {
	return f.simulateFn(address, payload)
}

type fakeVerifier struct {
	verified bool
	err      error
	calls    int
}

func (f *fakeVerifier) SourceVerified(ctx context.Context, address string) (bool, error) {
	f.calls++
	return f.verified, f.err
}

func healthyChain() *fakeChain {
	return &fakeChain{
		metaFn: func(address string) (fetcher.ContractMeta, error) {
			return fetcher.ContractMeta{Address: address, HasCode: true, BytecodeHash: "0xabc"}, nil
		},
		simulateFn: func(address string, payload []byte) (fetcher.SimulationOutcome, error) {
			return fetcher.SimulationOutcome{ReturnData: ownedWord()}, nil
		},
	}
}

func honeypotChain() *fakeChain {
	transferProbe := string(fetcher.PackTransferProbe())
	return &fakeChain{
		metaFn: func(address string) (fetcher.ContractMeta, error) {
			return fetcher.ContractMeta{Address: address, HasCode: true}, nil
		},
		simulateFn: func(address string, payload []byte) (fetcher.SimulationOutcome, error) {
			if string(payload) == transferProbe {
				return fetcher.SimulationOutcome{Reverted: true, Reason: "transfers disabled"}, nil
			}
			return fetcher.SimulationOutcome{ReturnData: ownedWord()}, nil
		},
	}
}

func newTestAnalyzer(opts Options, chain fetcher.ChainReader, verifier fetcher.SourceVerifier) *Analyzer {
	a := New(opts, chain, verifier, nil, zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.clock = func() time.Time { return now }
	return a
}

func TestAssessInvalidAddress(t *testing.T) {
	a := newTestAnalyzer(Options{}, healthyChain(), &fakeVerifier{verified: true})
	if _, err := a.Assess(context.Background(), "zzz"); !errors.Is(err, fetcher.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestAssessNoContractCode(t *testing.T) {
	chain := healthyChain()
	chain.metaFn = func(address string) (fetcher.ContractMeta, error) {
		return fetcher.ContractMeta{Address: address, HasCode: false}, nil
	}
	a := newTestAnalyzer(Options{}, chain, &fakeVerifier{verified: true})
	if _, err := a.Assess(context.Background(), contractAddr); !errors.Is(err, fetcher.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for EOA, got %v", err)
	}
}

func TestScoreBounds(t *testing.T) {
	a := newTestAnalyzer(Options{}, healthyChain(), &fakeVerifier{verified: true})
	assessment, err := a.Assess(context.Background(), contractAddr)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if assessment.Score < 0 || assessment.Score > 100 {
		t.Fatalf("score %d out of bounds", assessment.Score)
	}
	// Verified contract with clean probes carries only the no-history factor.
	if assessment.Score != weightNoHistory {
		t.Fatalf("expected score %d, got %d", weightNoHistory, assessment.Score)
	}
}

func TestUnverifiedHoneypotScoresHigh(t *testing.T) {
	a := newTestAnalyzer(Options{}, honeypotChain(), &fakeVerifier{verified: false})
	assessment, err := a.Assess(context.Background(), contractAddr)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if !assessment.HighRisk(a.HighRiskThreshold()) {
		t.Fatalf("unverified honeypot must clear the high-risk threshold, score=%d", assessment.Score)
	}
	if assessment.Score > 100 {
		t.Fatalf("score %d exceeds bound", assessment.Score)
	}
	if assessment.Outcome != OutcomeHoneypot {
		t.Fatalf("expected honeypot outcome, got %s", assessment.Outcome)
	}

	found := map[string]bool{}
	for _, f := range assessment.Factors {
		found[f.Name] = true
	}
	for _, want := range []string{FactorUnverified, FactorHoneypot, FactorNoHistory} {
		if !found[want] {
			t.Fatalf("factor %q missing from %v", want, assessment.Factors)
		}
	}
}

func TestAssessServesFromCache(t *testing.T) {
	verifier := &fakeVerifier{verified: true}
	a := newTestAnalyzer(Options{}, healthyChain(), verifier)

	first, err := a.Assess(context.Background(), contractAddr)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if first.FromCache {
		t.Fatal("first assessment cannot come from cache")
	}

	second, err := a.Assess(context.Background(), contractAddr)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if !second.FromCache {
		t.Fatal("second assessment within TTL should come from cache")
	}
	if verifier.calls != 1 {
		t.Fatalf("verifier should be hit once, got %d", verifier.calls)
	}
}

func TestHighRiskExpiresSooner(t *testing.T) {
	verifier := &fakeVerifier{verified: false}
	a := New(Options{HighRiskTTL: time.Hour, LowRiskTTL: 24 * time.Hour}, honeypotChain(), verifier, nil, zerolog.Nop())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.clock = func() time.Time { return now }

	if _, err := a.Assess(context.Background(), contractAddr); err != nil {
		t.Fatalf("assess: %v", err)
	}

	// Two hours later the high-risk entry is past its short TTL.
	now = now.Add(2 * time.Hour)
	assessment, err := a.Assess(context.Background(), contractAddr)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if assessment.FromCache {
		t.Fatal("expired high-risk entry must be re-fetched")
	}
	if verifier.calls != 2 {
		t.Fatalf("expected re-check, verifier calls=%d", verifier.calls)
	}
}

func TestUnavailableThenStale(t *testing.T) {
	boom := errors.New("rpc down")
	failing := 2
	chain := healthyChain()
	baseMeta := chain.metaFn
	chain.metaFn = func(address string) (fetcher.ContractMeta, error) {
		if failing > 0 {
			failing--
			return fetcher.ContractMeta{}, boom
		}
		return baseMeta(address)
	}

	a := newTestAnalyzer(Options{}, chain, &fakeVerifier{verified: true})

	// No cache yet: both failures escalate.
	if _, err := a.Assess(context.Background(), contractAddr); !errors.Is(err, fetcher.ErrDataUnavailable) {
		t.Fatalf("expected DataUnavailable, got %v", err)
	}
	if _, err := a.Assess(context.Background(), contractAddr); !errors.Is(err, fetcher.ErrDataUnavailable) {
		t.Fatalf("expected DataUnavailable, got %v", err)
	}

	// Third call succeeds and populates the cache.
	fresh, err := a.Assess(context.Background(), contractAddr)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if fresh.Stale {
		t.Fatal("live assessment must not be stale")
	}

	// Expire the cache, fail again: the expired entry degrades to stale.
	a.clock = func() time.Time { return fresh.CheckedAt.Add(48 * time.Hour) }
	failing = 1
	stale, err := a.Assess(context.Background(), contractAddr)
	if err != nil {
		t.Fatalf("stale fallback should not error, got %v", err)
	}
	if !stale.Stale || !stale.FromCache {
		t.Fatalf("expected stale cached assessment, got stale=%v fromCache=%v", stale.Stale, stale.FromCache)
	}
}
