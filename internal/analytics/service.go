// Package analytics serves volatility models and moving-average overlays to
// the HTTP layer.
package analytics

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/sshikora/crypto-analytics/internal/cache"
	"github.com/sshikora/crypto-analytics/internal/garch"
	"github.com/sshikora/crypto-analytics/internal/indicators"
	"github.com/sshikora/crypto-analytics/internal/metrics"
	"github.com/sshikora/crypto-analytics/internal/models"
)

var (
	// ErrFitTimeout is returned when a fit does not finish within FitTimeout
	ErrFitTimeout = errors.New("garch fit timed out")
	// ErrInvalidPeriods is returned for missing or out-of-range MA periods
	ErrInvalidPeriods = errors.New("invalid moving average periods")
)

// PriceSource supplies ascending price history for an asset
type PriceSource interface {
	GetPriceHistory(ctx context.Context, assetID string, days int) ([]models.PricePoint, error)
}

// Config holds the service settings
type Config struct {
	Garch       garch.Config
	CacheTTL    time.Duration
	FitTimeout  time.Duration
	DefaultDays int
	// MaxConcurrentFits bounds the number of fits running at once
	MaxConcurrentFits int
}

// Service fits volatility models and computes chart overlays
type Service struct {
	engine *garch.Engine
	prices PriceSource
	cache  cache.Cache
	cfg    Config

	fit      func(prices []float64, timestamps []int64, symbol string) (*models.GarchModel, error)
	fitSlots chan struct{}
}

// NewService creates a service. A nil cache disables caching.
func NewService(prices PriceSource, c cache.Cache, cfg Config) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.FitTimeout <= 0 {
		cfg.FitTimeout = 10 * time.Second
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = 90
	}
	if cfg.MaxConcurrentFits <= 0 {
		cfg.MaxConcurrentFits = runtime.NumCPU()
	}
	engine := garch.NewEngine(cfg.Garch)
	return &Service{
		engine:   engine,
		prices:   prices,
		cache:    c,
		cfg:      cfg,
		fit:      engine.Fit,
		fitSlots: make(chan struct{}, cfg.MaxConcurrentFits),
	}
}

// CacheKey identifies a fit by symbol, series length and a hash of every
// price and timestamp
func CacheKey(symbol string, prices []float64, timestamps []int64) string {
	h := xxhash.New()
	var buf [8]byte
	for _, p := range prices {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p))
		h.Write(buf[:])
	}
	for _, ts := range timestamps {
		binary.LittleEndian.PutUint64(buf[:], uint64(ts))
		h.Write(buf[:])
	}
	return fmt.Sprintf("garch:%s:%d:%016x", symbol, len(prices), h.Sum64())
}

// FitGarch fits a GARCH(1,1) model, serving repeated requests for the same
// series from the cache. Input is validated before the cache is consulted.
func (s *Service) FitGarch(ctx context.Context, prices []float64, timestamps []int64, symbol string) (*models.GarchModel, error) {
	if err := s.engine.Validate(prices, timestamps); err != nil {
		metrics.GarchFitErrors.WithLabelValues(errorReason(err)).Inc()
		return nil, err
	}

	key := CacheKey(symbol, prices, timestamps)
	if s.cache != nil {
		var cached models.GarchModel
		ok, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("garch cache read failed")
		}
		if ok {
			return &cached, nil
		}
	}

	model, err := s.fitWithTimeout(ctx, prices, timestamps, symbol)
	if err != nil {
		metrics.GarchFitErrors.WithLabelValues(errorReason(err)).Inc()
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, model, s.cfg.CacheTTL); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("garch cache write failed")
		}
	}
	return model, nil
}

type fitResult struct {
	model *models.GarchModel
	err   error
}

func (s *Service) fitWithTimeout(ctx context.Context, prices []float64, timestamps []int64, symbol string) (*models.GarchModel, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FitTimeout)
	defer cancel()

	if ctx.Err() != nil {
		return nil, s.fitContextErr(ctx)
	}
	start := time.Now()

	// A slot is held until the fit returns, including fits abandoned on timeout.
	select {
	case s.fitSlots <- struct{}{}:
	case <-ctx.Done():
		return nil, s.fitContextErr(ctx)
	}

	done := make(chan fitResult, 1)
	go func() {
		defer func() { <-s.fitSlots }()
		m, err := s.fit(prices, timestamps, symbol)
		done <- fitResult{model: m, err: err}
	}()

	select {
	case r := <-done:
		metrics.GarchFitDuration.Observe(time.Since(start).Seconds())
		if r.err != nil {
			return nil, r.err
		}
		log.Debug().Str("symbol", symbol).Int("observations", r.model.Observations).
			Int("iterations", r.model.Iterations).Float64("persistence", r.model.Persistence).
			Dur("duration", time.Since(start)).Msg("garch model fitted")
		return r.model, nil
	case <-ctx.Done():
		return nil, s.fitContextErr(ctx)
	}
}

func (s *Service) fitContextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrFitTimeout, s.cfg.FitTimeout)
	}
	return ctx.Err()
}

// VolatilityForAsset fits a model over the last `days` days of an asset's history
func (s *Service) VolatilityForAsset(ctx context.Context, assetID, symbol string, days int) (*models.GarchModel, error) {
	if days <= 0 {
		days = s.cfg.DefaultDays
	}
	points, err := s.prices.GetPriceHistory(ctx, assetID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history for %s: %w", assetID, err)
	}
	if symbol == "" {
		symbol = assetID
	}
	return s.FitGarch(ctx, models.Prices(points), models.Timestamps(points), symbol)
}

// MASeries is one moving average aligned with the price series
type MASeries struct {
	Period int        `json:"period"`
	Values []*float64 `json:"values"`
}

// MovingAverages is a price chart with moving-average overlays
type MovingAverages struct {
	AssetID    string      `json:"asset_id"`
	Timestamps []time.Time `json:"timestamps"`
	Prices     []float64   `json:"prices"`
	Averages   []MASeries  `json:"moving_averages"`
}

// MovingAverages computes one SMA series per period over the asset's history
func (s *Service) MovingAverages(ctx context.Context, assetID string, days int, periods []int) (*MovingAverages, error) {
	if len(periods) == 0 {
		return nil, fmt.Errorf("%w: at least one period is required", ErrInvalidPeriods)
	}
	for _, p := range periods {
		if p < models.MinMAPeriod || p > models.MaxMAPeriod {
			return nil, fmt.Errorf("%w: period %d out of range [%d, %d]", ErrInvalidPeriods, p, models.MinMAPeriod, models.MaxMAPeriod)
		}
	}
	if days <= 0 {
		days = s.cfg.DefaultDays
	}

	points, err := s.prices.GetPriceHistory(ctx, assetID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history for %s: %w", assetID, err)
	}

	prices := models.Prices(points)
	out := &MovingAverages{
		AssetID:    assetID,
		Timestamps: make([]time.Time, len(points)),
		Prices:     prices,
		Averages:   make([]MASeries, len(periods)),
	}
	for i, p := range points {
		out.Timestamps[i] = p.Time()
	}
	for i, period := range periods {
		out.Averages[i] = MASeries{Period: period, Values: indicators.SMA(prices, period).Values()}
	}
	return out, nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, garch.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, garch.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrFitTimeout):
		return "timeout"
	default:
		return "other"
	}
}
