package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baharkarakas/wallet-ledger/internal/api"
	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/cache"
	"github.com/baharkarakas/wallet-ledger/internal/config"
	"github.com/baharkarakas/wallet-ledger/internal/db"
	"github.com/baharkarakas/wallet-ledger/internal/events"
	"github.com/baharkarakas/wallet-ledger/internal/lock"
	"github.com/baharkarakas/wallet-ledger/internal/logger"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/rates"
	"github.com/baharkarakas/wallet-ledger/internal/reference"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/baharkarakas/wallet-ledger/internal/repository/memory"
	"github.com/baharkarakas/wallet-ledger/internal/repository/postgres"
	"github.com/baharkarakas/wallet-ledger/internal/services"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
)

const eventQueueSize = 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env, cfg.LogLevel)
	slog.SetDefault(log)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("storage", "driver", cfg.StorageDriver, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	static, err := rates.ParseTable(cfg.ExchangeRates, time.Now())
	if err != nil {
		log.Error("exchange rates", "err", err)
		os.Exit(1)
	}
	var (
		rateProvider rates.Provider = static
		balances     cache.Balances = cache.Nop{}
		rdb          *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, continuing with cache misses", "addr", cfg.RedisAddr, "err", err)
		}
		rateProvider = rates.NewCachedProvider(static, rates.NewRedisCache(rdb), cfg.RateCacheTTL)
		balances = cache.NewRedisBalances(rdb, cfg.BalanceCacheTTL)
	}

	pub := newPublisher(cfg, rdb, log)
	wp := worker.NewPool(cfg.WorkerCount, eventQueueSize)
	defer func() {
		wp.Stop()
		if err := pub.Close(); err != nil {
			log.Warn("event publisher close", "err", err)
		}
	}()

	locks := lock.NewManager()
	tm := auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTIssuer, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)

	userSvc := services.NewUserService(store, tm)
	walletSvc := services.NewWalletService(store, locks, cfg.LockTimeout, balances)
	txnSvc := services.NewTransactionService(store, locks, reference.NewULIDGenerator(), rateProvider,
		services.LedgerConfig{
			LockTimeout:       cfg.LockTimeout,
			ReferenceAttempts: cfg.ReferenceAttempts,
			WithdrawalFeePct:  cfg.WithdrawalFeePct,
			TransferFeePct:    cfg.TransferFeePct,
		},
		services.WithBalanceCache(balances),
		services.WithNotifier(events.NewDispatcher(wp, pub)),
		services.WithLogger(log),
	)

	if cfg.AdminEmail != "" {
		if _, err := userSvc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			log.Error("admin bootstrap", "err", err)
			os.Exit(1)
		}
	}

	r := api.NewRouter(api.RouterDeps{
		Cfg:       cfg,
		Tokens:    tm,
		UserSvc:   userSvc,
		WalletSvc: walletSvc,
		TxnSvc:    txnSvc,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "storage", cfg.StorageDriver, "events", pub.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "err", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (repository.Store, error) {
	if cfg.StorageDriver == "memory" {
		log.Warn("using in-memory storage; data is lost on exit")
		return memory.New(), nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := db.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return postgres.NewStore(pool, cfg.LockTimeout), nil
}

func newPublisher(cfg config.Config, rdb *redis.Client, log *slog.Logger) events.Publisher {
	switch cfg.EventsSink {
	case "redis":
		if rdb != nil {
			return events.NewRedisPublisher(rdb, "")
		}
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	return events.NewLogPublisher(log)
}
