// Package main provides the ingestion worker entry point. It runs the sync
// schedule without serving the HTTP API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-ledger/internal/binance"
	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/ratelimit"
	"github.com/portfolio-ledger/internal/service"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close() // nolint:errcheck // cleanup in defer

	accounts := storage.NewAccountRepository(postgres)
	transactions := storage.NewTransactionRepository(postgres)
	prices := storage.NewPriceBarRepository(postgres)
	lots := storage.NewLotRepository(postgres)
	snapshots := storage.NewSnapshotRepository(postgres)
	syncLogs := storage.NewSyncLogRepository(postgres)
	balances := storage.NewBalanceSnapshotRepository(postgres)
	cache := storage.NewPriceCache(redis)

	syncService := service.NewSyncService(service.SyncDeps{
		Accounts:     accounts,
		Transactions: transactions,
		Prices:       prices,
		Lots:         lots,
		Snapshots:    snapshots,
		SyncLogs:     syncLogs,
		Balances:     balances,
		Cache:        cache,
		NewExchange: func(account *models.Account) (service.Exchange, error) {
			limiter, err := ratelimit.NewWeightLimiter(&ratelimit.WeightLimiterConfig{
				Budget: cfg.Binance.WeightBudget,
			})
			if err != nil {
				return nil, err
			}
			return binance.NewClient(&binance.ClientConfig{
				APIKey:    account.APIKey,
				APISecret: account.APISecret,
				BaseURL:   cfg.Binance.BaseURL,
				Timeout:   cfg.Binance.Timeout,
				Limiter:   limiter,
			})
		},
		Config: cfg.Sync,
	})

	scheduler, err := worker.NewScheduler(&worker.SchedulerConfig{
		Syncer:   syncService,
		Interval: cfg.Sync.Interval,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scheduler")
	}

	ctx := logging.WithLogger(context.Background(), logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Failed to stop scheduler gracefully")
	}
}
