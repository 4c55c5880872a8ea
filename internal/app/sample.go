package app

import (
	"context"
	"errors"
	"time"
)

// SampleGas takes fee readings in the foreground and persists them。
func (a *App) SampleGas(ctx context.Context, opts SampleOptions) error {
	if opts.Count <= 0 {
		opts.Count = 1
	}

	every := opts.Every
	if every <= 0 {
		every = a.Config.Scheduler.Interval
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法持久化采样")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rpc, scan := a.newChainClients()
	oracle := a.newOracle(a.feeProvider(rpc, scan))
	a.warmOracle(ctx, store, oracle)

	processed := 0
	failed := 0
	for i := 0; i < opts.Count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(every):
			}
		}

		reading, err := oracle.Sample(ctx)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Msg("采样失败")
			continue
		}

		if err := store.InsertGasSample(ctx, reading.Chain, reading.Fee, reading.SampledAt); err != nil {
			failed++
			a.Logger.Error().Err(err).Msg("采样写入失败")
			continue
		}

		processed++
		a.Logger.Info().
			Str("fee_gwei", reading.Fee.String()).
			Str("level", string(reading.Level)).
			Msg("gas sample recorded")
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("采样完成")
	if failed > 0 {
		return errors.New("部分采样失败，请检查日志")
	}
	return nil
}
