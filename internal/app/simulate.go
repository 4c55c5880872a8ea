package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"defi-advisor/internal/advisor"
	"defi-advisor/internal/alerting"
	"defi-advisor/internal/calendar"
	"defi-advisor/internal/dedup"
	"defi-advisor/internal/fetcher"
	"defi-advisor/internal/gas"
	"defi-advisor/internal/positions"
	"defi-advisor/internal/storage"
)

// SimulateAdvisory 以给定的 gas 价格和一个即将到期的仓位模拟一次评估流程。
// The fee window is seeded with a synthetic 20-67 gwei baseline, so fees
// below roughly 32 gwei classify as cheap.
func (a *App) SimulateAdvisory(ctx context.Context, opts SimulateOptions) error {
	var notifier alerting.Notifier
	if opts.DryRun {
		notifier = alerting.NewLogNotifier(a.Logger)
	} else {
		if !a.Config.Telegram.Enabled {
			return errors.New("telegram 未启用")
		}
		notifier = a.newNotifier()
	}

	now := time.Now().UTC()

	provider := &staticFeeProvider{fee: opts.FeeGwei}
	oracle := a.newOracle(provider)
	oracle.Warm(syntheticBaseline(now))

	rpc, scan := a.newChainClients()
	analyzer := a.newAnalyzer(rpc, scan, nil)

	dueIn := opts.DueIn
	if dueIn <= 0 {
		dueIn = time.Hour
	}
	cadence := 7 * 24 * time.Hour

	users := &staticUsers{user: storage.User{
		ID:            1,
		Handle:        "simulated",
		Active:        true,
		GasAlertLevel: string(gas.LevelCheap),
	}}
	lister := &staticPositions{position: storage.Position{
		ID:          1,
		UserID:      1,
		Protocol:    "aave",
		Asset:       "USDC",
		Principal:   decimal.NewFromInt(10000),
		APY:         decimal.NewFromFloat(0.05),
		Cadence:     cadence,
		OpenedAt:    now.Add(-30 * 24 * time.Hour),
		LastClaimAt: now.Add(dueIn - cadence),
		Status:      storage.PositionStatusActive,
	}}

	adv, err := advisor.New(advisor.Options{
		Oracle:    oracle,
		Analyzer:  analyzer,
		Positions: lister,
		Users:     users,
		State:     dedup.NewMemory(),
		Notifier:  notifier,
		Calendar:  calendar.Noop{},
		Logger:    a.Logger,
		Lookahead: a.Config.Advisor.Lookahead,
		Cooldown:  a.Config.Advisor.Cooldown,
	})
	if err != nil {
		return err
	}

	if err := adv.ProcessTick(ctx, now.Truncate(time.Minute)); err != nil {
		return err
	}
	adv.Wait()
	return nil
}

// syntheticBaseline builds a rising 20-67 gwei window over the past day.
func syntheticBaseline(now time.Time) []gas.Sample {
	samples := make([]gas.Sample, 0, 48)
	for i := 0; i < 48; i++ {
		samples = append(samples, gas.Sample{
			At:  now.Add(-time.Duration(48-i) * 30 * time.Minute),
			Fee: decimal.NewFromInt(int64(20 + i)),
		})
	}
	return samples
}

type staticFeeProvider struct {
	fee decimal.Decimal
}

func (s *staticFeeProvider) CurrentFee(ctx context.Context) (decimal.Decimal, error) {
	return s.fee, nil
}

type staticUsers struct {
	user storage.User
}

func (s *staticUsers) ListActiveUsers(ctx context.Context) ([]storage.User, error) {
	return []storage.User{s.user}, nil
}

func (s *staticUsers) GetUser(ctx context.Context, id int64) (storage.User, error) {
	return s.user, nil
}

func (s *staticUsers) UpsertUser(ctx context.Context, user storage.User) (storage.User, error) {
	return user, nil
}

type staticPositions struct {
	position storage.Position
}

func (s *staticPositions) List(ctx context.Context, userID int64) ([]storage.Position, error) {
	return []storage.Position{s.position}, nil
}

var _ fetcher.GasFeeProvider = (*staticFeeProvider)(nil)
var _ storage.UserStore = (*staticUsers)(nil)
var _ positions.Lister = (*staticPositions)(nil)
