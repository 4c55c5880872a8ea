package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"defi-advisor/internal/advisor"
	"defi-advisor/internal/alerting"
	"defi-advisor/internal/calendar"
	"defi-advisor/internal/config"
	"defi-advisor/internal/dedup"
	"defi-advisor/internal/fetcher"
	"defi-advisor/internal/gas"
	"defi-advisor/internal/handler"
	"defi-advisor/internal/middleware"
	"defi-advisor/internal/positions"
	"defi-advisor/internal/risk"
	"defi-advisor/internal/scheduler"
	"defi-advisor/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newChainClients() (*fetcher.RPC, *fetcher.Etherscan) {
	rpc := fetcher.NewRPC(fetcher.RPCOptions{
		RPCURL:  a.Config.Ethereum.RPCURL,
		Chain:   a.Config.Ethereum.Chain,
		Timeout: a.Config.Ethereum.RequestTimeout,
	}, a.Logger)

	scan := fetcher.NewEtherscan(fetcher.EtherscanOptions{
		BaseURL:   a.Config.Etherscan.BaseURL,
		APIKey:    a.Config.Etherscan.APIKey,
		Timeout:   a.Config.Etherscan.RequestTimeout,
		UserAgent: a.Config.Etherscan.UserAgent,
	}, a.Logger)

	return rpc, scan
}

// feeProvider prefers the RPC node; without one the explorer gas tracker
// serves fee readings.
func (a *App) feeProvider(rpc *fetcher.RPC, scan *fetcher.Etherscan) fetcher.GasFeeProvider {
	if a.Config.Ethereum.RPCURL != "" {
		return rpc
	}
	a.Logger.Warn().Msg("ethereum.rpc_url not configured; sampling fees via explorer gas tracker")
	return scan
}

func (a *App) newOracle(provider fetcher.GasFeeProvider) *gas.Oracle {
	return gas.New(gas.Options{
		Chain:                a.Config.Ethereum.Chain,
		MaxSamples:           a.Config.Gas.WindowSamples,
		MaxAge:               a.Config.Gas.WindowMaxAge,
		CheapPercentile:      a.Config.Gas.CheapPercentile,
		ExpensivePercentile:  a.Config.Gas.ExpensivePercentile,
		MinPredictionSamples: a.Config.Gas.MinPredictionSamples,
		SpikeThreshold:       decimal.NewFromFloat(a.Config.Gas.SpikeThresholdGwei),
	}, provider, a.Logger)
}

func (a *App) newAnalyzer(rpc *fetcher.RPC, scan *fetcher.Etherscan, history storage.AssessmentStore) *risk.Analyzer {
	return risk.New(risk.Options{
		HighRiskTTL:       a.Config.Risk.HighRiskTTL,
		LowRiskTTL:        a.Config.Risk.LowRiskTTL,
		HighRiskThreshold: a.Config.Risk.HighRiskThreshold,
	}, rpc, scan, history, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Telegram.Enabled {
		cfg := a.Config.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.RequestTimeout, a.Logger)
	}
	a.Logger.Warn().Msg("telegram 未启用, 建议将输出到日志")
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newCalendarSink() (calendar.Sink, error) {
	if !a.Config.Calendar.Enabled {
		return calendar.Noop{}, nil
	}
	cfg := a.Config.Calendar
	return calendar.NewClient(calendar.Options{
		BaseURL:   cfg.BaseURL,
		Token:     cfg.Token,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore opens the database and fails when it is not configured.
func (a *App) requireStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn is required for this command")
	}
	return store, closeStore, nil
}

// newStateTracker picks the notification-state backend: Redis when enabled,
// otherwise PostgreSQL, otherwise process memory.
func (a *App) newStateTracker(store *storage.Store) (dedup.Tracker, func(), error) {
	if a.Config.Redis.Enabled {
		tracker, err := dedup.NewRedis(a.Config.Redis.URL, a.Config.Redis.Password)
		if err != nil {
			return nil, nil, err
		}
		return tracker, func() { _ = tracker.Close() }, nil
	}
	if store != nil {
		return store, func() {}, nil
	}
	a.Logger.Warn().Msg("no durable notification state backend; cooldowns reset on restart")
	return dedup.NewMemory(), func() {}, nil
}

// warmOracle replays persisted fee history so classification does not start
// from an empty window after a restart.
func (a *App) warmOracle(ctx context.Context, store storage.GasSampleStore, oracle *gas.Oracle) {
	if store == nil {
		return
	}

	rows, err := store.ListRecentGasSamples(ctx, a.Config.Ethereum.Chain, a.Config.Gas.WindowSamples)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("failed to load gas history for warm start")
		return
	}
	if len(rows) == 0 {
		return
	}

	samples := make([]gas.Sample, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		samples = append(samples, gas.Sample{At: rows[i].SampledAt, Fee: rows[i].FeeGwei})
	}
	oracle.Warm(samples)
	a.Logger.Info().Int("samples", len(samples)).Msg("gas oracle warmed from history")
}

// Run executes the long-running advisory service and its HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.Logger.Info().Msg("database connected and migrated")

	rpc, scan := a.newChainClients()
	oracle := a.newOracle(a.feeProvider(rpc, scan))
	a.warmOracle(ctx, store, oracle)
	analyzer := a.newAnalyzer(rpc, scan, store)

	tracker, err := positions.NewTracker(positions.Options{Store: store, Logger: a.Logger})
	if err != nil {
		return err
	}

	state, closeState, err := a.newStateTracker(store)
	if err != nil {
		return err
	}
	defer closeState()

	sink, err := a.newCalendarSink()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	adv, err := advisor.New(advisor.Options{
		Scheduler:       sched,
		Oracle:          oracle,
		Analyzer:        analyzer,
		Positions:       tracker,
		Users:           store,
		Watches:         store,
		Store:           store,
		GasStore:        store,
		State:           state,
		Notifier:        a.newNotifier(),
		Calendar:        sink,
		Locker:          store,
		Logger:          a.Logger,
		Lookahead:       a.Config.Advisor.Lookahead,
		Cooldown:        a.Config.Advisor.Cooldown,
		MaxConcurrent:   a.Config.Advisor.MaxConcurrent,
		Retry:           a.retryPolicy(),
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         a.Config.HTTP.ListenAddr,
		Handler:      a.newRouter(store, oracle, analyzer, tracker, adv),
		ReadTimeout:  a.Config.HTTP.ReadTimeout,
		WriteTimeout: a.Config.HTTP.WriteTimeout,
	}

	httpErr := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
			cancel()
		}
	}()

	a.Logger.Info().Msg("starting advisory service")
	runErr := adv.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown failed")
	}

	select {
	case err := <-httpErr:
		return err
	default:
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.Logger.Error().Err(runErr).Msg("advisory service terminated with error")
		return runErr
	}

	a.Logger.Info().Msg("advisory service stopped")
	return nil
}

func (a *App) retryPolicy() advisor.RetryPolicy {
	return advisor.RetryPolicy{
		MaxAttempts: a.Config.Advisor.RetryAttempts,
		BaseDelay:   a.Config.Advisor.RetryBaseDelay,
		MaxDelay:    a.Config.Advisor.RetryMaxDelay,
	}
}

func (a *App) newRouter(store *storage.Store, oracle gas.Reader, analyzer risk.Assessor, tracker *positions.Tracker, adv *advisor.Advisor) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(a.Logger))
	r.Use(middleware.Logger(a.Logger))
	r.Use(middleware.Metrics())

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(store))

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(a.Config.HTTP.AuthToken))
		r.Get("/gas", handler.GasNow(oracle))
		r.Get("/assess", handler.AssessContract(analyzer))
		r.Post("/users", handler.RegisterUser(store))
		r.Post("/users/{userID}/evaluate", handler.Evaluate(adv))
		r.Get("/users/{userID}/positions", handler.ListPositions(tracker))
		r.Post("/users/{userID}/positions", handler.AddPosition(tracker))
		r.Get("/users/{userID}/wallets", handler.ListWallets(store))
		r.Post("/users/{userID}/wallets", handler.AddWallet(store))
		r.Delete("/users/{userID}/wallets", handler.RemoveWallet(store))
		r.Get("/users/{userID}/watches", handler.ListWatches(store))
		r.Post("/users/{userID}/watches", handler.AddWatch(store))
		r.Delete("/users/{userID}/watches", handler.RemoveWatch(store))
		r.Post("/positions/{positionID}/claim", handler.ClaimPosition(tracker))
		r.Delete("/positions/{positionID}", handler.RemovePosition(tracker))
	})

	return r
}

// ExportOptions hold parameters for exporting fee history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SampleOptions configure foreground fee sampling.
type SampleOptions struct {
	Count int
	Every time.Duration
}

// SimulateOptions configure a simulated advisory pass.
type SimulateOptions struct {
	FeeGwei decimal.Decimal
	DueIn   time.Duration
	DryRun  bool
}

// UserAddOptions describe a user registration.
type UserAddOptions struct {
	Handle        string
	ChatID        string
	GasAlertLevel string
}

// PositionAddOptions describe a position registration.
type PositionAddOptions struct {
	UserID    int64
	Protocol  string
	Asset     string
	Principal decimal.Decimal
	APY       decimal.Decimal
	Cadence   time.Duration
	OpenedAt  *time.Time
}
