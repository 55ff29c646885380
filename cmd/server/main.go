package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/energy-market/internal/api"
	"github.com/atmx/energy-market/internal/config"
	"github.com/atmx/energy-market/internal/energy"
	"github.com/atmx/energy-market/internal/ledger"
	"github.com/atmx/energy-market/internal/market"
	"github.com/atmx/energy-market/internal/metrics"
	"github.com/atmx/energy-market/internal/model"
	"github.com/atmx/energy-market/internal/provision"
	"github.com/atmx/energy-market/internal/settlement"
	"github.com/atmx/energy-market/internal/simulation"
	"github.com/atmx/energy-market/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("MARKET_CONFIG"))
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Payment network ---
	client := openLedger(cfg.Ledger)
	if client != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		up := ledger.Reachable(pingCtx, client)
		cancel()
		metrics.SetLedgerReachable(up)
		if up {
			slog.Info("payment network reachable", "mode", cfg.Ledger.Mode)
		} else {
			slog.Warn("payment network unreachable, trades will settle locally", "mode", cfg.Ledger.Mode)
		}
	}

	// --- Neighborhood ---
	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := energy.NewSource(seed)
	buildings := loadNeighborhood(ctx, st, cfg.Simulation.Buildings, src)

	ptrs := make([]*model.Building, len(buildings))
	for i := range buildings {
		ptrs[i] = &buildings[i]
	}
	if err := provision.New(st, client, logger).Ensure(ctx, ptrs); err != nil {
		slog.Error("provisioning interrupted", "err", err)
		os.Exit(1)
	}

	// --- Settlement ---
	tradeLog := settlement.NewLog()
	if prior, err := st.ListTrades(ctx); err != nil {
		slog.Warn("trade history not restored", "err", err)
	} else if tradeLog.Restore(prior) {
		slog.Info("trade history restored", "trades", len(prior))
	}
	exec := settlement.NewExecutor(client,
		settlement.WithJournal(st),
		settlement.WithLog(tradeLog),
		settlement.WithLogger(logger),
	)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	// --- Simulation ---
	var weather energy.WeatherSource
	if cfg.Simulation.Weather != "" {
		weather = energy.Fixed(cfg.Simulation.Weather)
	} else {
		weather = energy.NewNoiseWeather(int64(seed), cfg.Simulation.WeatherFrequency)
	}
	driver := simulation.New(simulation.Config{
		TimeStep:     cfg.Simulation.TimeStep,
		StartHour:    cfg.Simulation.StartHour,
		TickInterval: cfg.Simulation.TickInterval,
		HistorySize:  cfg.Simulation.HistorySize,
	}, buildings,
		market.NewMatcher(cfg.MarketParams(), logger),
		exec,
		simulation.WithEnergy(energy.NewModel(src)),
		simulation.WithWeather(weather),
		simulation.WithPublisher(wsHub),
		simulation.WithSnapshots(st),
		simulation.WithLogger(logger),
	)
	if cfg.Simulation.Paused {
		driver.Pause()
	}
	go func() {
		if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("simulation stopped", "err", err)
		}
	}()

	// --- API service ---
	svc := api.NewService(driver, api.Options{
		ExplorerURL:  cfg.Ledger.ExplorerURL,
		GridPrice:    cfg.Market.GridPrice.Decimal,
		P2PPrice:     cfg.Market.P2PPrice.Decimal,
		CarbonFactor: cfg.Market.CarbonFactor.Decimal,
		Ledger:       client,
	})
	router := api.NewRouter(svc, wsHub, api.RouterConfig{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("energy-market listening",
			"port", cfg.Server.Port,
			"buildings", len(buildings),
			"ledger", cfg.Ledger.Mode,
			"seed", seed,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down energy-market...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := st.SaveBuildings(shutdownCtx, driver.Buildings()); err != nil {
		slog.Warn("final snapshot failed", "err", err)
	}
	fmt.Println("energy-market stopped")
}

// openStore selects PostgreSQL, then SQLite, then memory, and wraps the
// result in the Redis cache when configured.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, []func(), error) {
	var (
		st      store.Store
		cleanup []func()
	)

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("database migration: %w", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

	case cfg.SQLitePath != "":
		lite, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		cleanup = append(cleanup, func() { lite.Close() })
		st = lite
		slog.Info("using SQLite store", "path", cfg.SQLitePath)

	default:
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			for _, fn := range cleanup {
				fn()
			}
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append([]func(){func() { rdb.Close() }}, cleanup...)
		cached := store.NewCachedStore(st, rdb, cfg.CacheTTL)
		if err := cached.Ping(ctx); err != nil {
			slog.Warn("Redis unreachable, cache will fall through", "err", err)
		}
		st = cached
		slog.Info("Redis cache enabled")
	}
	return st, cleanup, nil
}

// openLedger builds the payment network client for the configured mode.
// Offline mode returns nil so every trade settles locally.
func openLedger(cfg config.LedgerConfig) ledger.Client {
	switch cfg.Mode {
	case config.LedgerRPC:
		return ledger.NewRPCClient(ledger.RPCConfig{
			URL:             cfg.URL,
			Timeout:         cfg.Timeout,
			ConfirmAttempts: cfg.ConfirmAttempts,
			ConfirmInterval: cfg.ConfirmInterval,
		})
	case config.LedgerOffline:
		return nil
	default:
		return ledger.NewMemoryNetwork()
	}
}

// loadNeighborhood resumes the persisted building set, or generates a new
// one of size n.
func loadNeighborhood(ctx context.Context, st store.Store, n int, src energy.Source) []model.Building {
	saved, err := st.LoadBuildings(ctx)
	switch {
	case err == nil && len(saved) > 0:
		slog.Info("neighborhood restored", "buildings", len(saved))
		return saved
	case err != nil && !errors.Is(err, store.ErrNotFound):
		slog.Warn("building snapshot unreadable, generating neighborhood", "err", err)
	}
	return energy.NewNeighborhood(n, src)
}
