// Package main provides the API server entry point for the portfolio ledger.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-ledger/internal/api"
	"github.com/portfolio-ledger/internal/binance"
	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/ratelimit"
	"github.com/portfolio-ledger/internal/service"
	"github.com/portfolio-ledger/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	logger.Info("Connecting to databases...")

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

	logger.Info("Database connections established")

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
		NewExchange:  exchangeFactory(cfg),
		Config:       cfg.Sync,
	})

	portfolioService := service.NewPortfolioService(service.PortfolioDeps{
		Accounts:     accounts,
		Transactions: transactions,
		Prices:       prices,
		Lots:         lots,
		Snapshots:    snapshots,
		SyncLogs:     syncLogs,
		Cache:        cache,
	})

	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, syncService, portfolioService)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("API server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to shut down server gracefully")
	}
}

// exchangeFactory builds a per-account exchange client. Each account gets
// its own weight limiter: request weights are counted per API key.
func exchangeFactory(cfg *config.Config) service.ExchangeFactory {
	return func(account *models.Account) (service.Exchange, error) {
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
	}
}
