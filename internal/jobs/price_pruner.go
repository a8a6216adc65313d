package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// PriceHistoryStore deletes stored price observations
type PriceHistoryStore interface {
	DeletePriceHistoryOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// PriceHistoryPruner removes price history older than the retention window
type PriceHistoryPruner struct {
	store     PriceHistoryStore
	retention time.Duration
	now       func() time.Time
}

// NewPriceHistoryPruner creates a pruner keeping `retention` worth of history
func NewPriceHistoryPruner(store PriceHistoryStore, retention time.Duration) *PriceHistoryPruner {
	return &PriceHistoryPruner{store: store, retention: retention, now: time.Now}
}

// Prune deletes observations older than now minus the retention window
func (p *PriceHistoryPruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	deleted, err := p.store.DeletePriceHistoryOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned price history")
	}
	return deleted, nil
}

// Start prunes immediately and then every interval until ctx is done
func (p *PriceHistoryPruner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.Prune(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("failed to prune price history")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
