// Package cache stores JSON-encoded values with a time-to-live.
package cache

import (
	"context"
	"time"

	"github.com/sshikora/crypto-analytics/internal/metrics"
)

// Cache is a key/value store for JSON-serializable values
type Cache interface {
	// Get decodes the value stored at key into dest. It reports false on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

func record(name string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	metrics.CacheRequests.WithLabelValues(name, result).Inc()
}
