package coingecko

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sshikora/crypto-analytics/internal/cache"
	"github.com/sshikora/crypto-analytics/internal/models"
)

// PriceSource is anything that serves price history
type PriceSource interface {
	GetPriceHistory(ctx context.Context, assetID string, days int) ([]models.PricePoint, error)
}

// CachedSource caches price history per asset and depth
type CachedSource struct {
	source PriceSource
	cache  cache.Cache
	ttl    time.Duration
}

func NewCachedSource(source PriceSource, c cache.Cache, ttl time.Duration) *CachedSource {
	return &CachedSource{source: source, cache: c, ttl: ttl}
}

func (s *CachedSource) GetPriceHistory(ctx context.Context, assetID string, days int) ([]models.PricePoint, error) {
	key := fmt.Sprintf("prices:%s:%d", assetID, days)

	var points []models.PricePoint
	ok, err := s.cache.Get(ctx, key, &points)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("price cache read failed")
	}
	if ok {
		return points, nil
	}

	points, err = s.source.GetPriceHistory(ctx, assetID, days)
	if err != nil {
		return nil, err
	}

	// Cache failures never fail the read.
	if err := s.cache.Set(ctx, key, points, s.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("price cache write failed")
	}
	return points, nil
}
