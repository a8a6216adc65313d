package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sshikora/crypto-analytics/internal/analytics"
	"github.com/sshikora/crypto-analytics/internal/api"
	"github.com/sshikora/crypto-analytics/internal/cache"
	"github.com/sshikora/crypto-analytics/internal/coingecko"
	"github.com/sshikora/crypto-analytics/internal/config"
	"github.com/sshikora/crypto-analytics/internal/crossover"
	"github.com/sshikora/crypto-analytics/internal/database"
	"github.com/sshikora/crypto-analytics/internal/garch"
	"github.com/sshikora/crypto-analytics/internal/jobs"
	"github.com/sshikora/crypto-analytics/internal/kafka"
	"github.com/sshikora/crypto-analytics/internal/logger"
	"github.com/sshikora/crypto-analytics/internal/optimize"
)

const pruneInterval = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.InitWith("crypto-analytics", cfg.Log.Level, cfg.Log.Format, os.Stdout)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(cfg.Database.MigrationsPath); err != nil {
		return err
	}

	c, closeCache := buildCache(ctx, cfg)
	defer closeCache()

	prices := buildPriceSource(cfg, db, c)
	a := cfg.Analytics

	detector := crossover.NewDetector(prices, db, crossover.Config{
		Cooldown:        a.Cooldown,
		AssetDelay:      a.AssetDelay,
		MinLookbackDays: a.MinLookbackDays,
	})
	svc := analytics.NewService(prices, c, analytics.Config{
		Garch: garch.Config{
			ForecastHorizons: a.ForecastHorizons,
			MinObservations:  a.MinObservations,
			Optimizer:        optimize.Options{MaxIter: a.OptimizerMaxIter, Tol: a.OptimizerTol},
		},
		CacheTTL:          a.GarchCacheTTL,
		FitTimeout:        a.FitTimeout,
		DefaultDays:       a.DefaultDays,
		MaxConcurrentFits: a.MaxConcurrent,
	})

	var publisher jobs.Publisher
	var wg sync.WaitGroup
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.NotificationsTopic)
		defer producer.Close()
		publisher = producer

		consumer := kafka.NewPriceConsumer(cfg.Kafka.Brokers, cfg.Kafka.PriceTopic, cfg.Kafka.GroupID, db)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("price consumer stopped with error")
			}
		}()
	}

	checker := jobs.NewCrossoverChecker(detector, db, publisher)
	wg.Add(1)
	go func() {
		defer wg.Done()
		checker.Start(ctx, a.CheckInterval)
	}()

	if a.PriceRetention > 0 {
		pruner := jobs.NewPriceHistoryPruner(db, a.PriceRetention)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruner.Start(ctx, pruneInterval)
		}()
	}

	handler := api.NewHandler(svc, checker, db, db, db)
	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           api.SetupRoutes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("price_source", a.PriceSource).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}

	wg.Wait()
	log.Info().Msg("shutdown complete")
	return nil
}

func buildCache(ctx context.Context, cfg *config.Config) (cache.Cache, func()) {
	if !cfg.Redis.Enabled {
		mc := cache.NewMemoryCache(cache.WithMaxEntries(cfg.Analytics.MemoryCacheSize))
		return mc, mc.Close
	}

	rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   "crypto-analytics:",
	})
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, falling back to in-memory cache")
		mc := cache.NewMemoryCache(cache.WithMaxEntries(cfg.Analytics.MemoryCacheSize))
		return mc, mc.Close
	}
	return rc, func() {
		if err := rc.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close error")
		}
	}
}

func buildPriceSource(cfg *config.Config, db *database.DB, c cache.Cache) coingecko.PriceSource {
	if cfg.Analytics.PriceSource == config.PriceSourceDatabase {
		return db
	}

	opts := []coingecko.ClientOption{
		coingecko.WithBaseURL(cfg.CoinGecko.BaseURL),
		coingecko.WithTimeout(cfg.CoinGecko.Timeout),
	}
	if cfg.CoinGecko.APIKey != "" {
		opts = append(opts, coingecko.WithAPIKey(cfg.CoinGecko.APIKey))
	}
	return coingecko.NewCachedSource(coingecko.NewClient(opts...), c, cfg.Analytics.PriceCacheTTL)
}
