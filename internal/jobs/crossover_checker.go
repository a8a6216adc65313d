// Package jobs runs the periodic crossover check and turns detected
// crossovers into notifications.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sshikora/crypto-analytics/internal/models"
)

// Detector runs one detection cycle
type Detector interface {
	ProcessAllActiveRules(ctx context.Context) ([]models.DetectedCrossover, error)
}

// NotificationStore persists notification records
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Publisher hands notifications to the delivery services
type Publisher interface {
	PublishCrossover(ctx context.Context, n *models.Notification) error
}

// TriggerResult reports a manually triggered check
type TriggerResult struct {
	Success            bool  `json:"success"`
	CrossoversDetected int   `json:"crossovers_detected"`
	Duration           int64 `json:"duration"` // milliseconds
}

// CrossoverChecker runs detection cycles and records their results
type CrossoverChecker struct {
	detector      Detector
	notifications NotificationStore
	publisher     Publisher
}

// NewCrossoverChecker creates a checker. A nil publisher disables publishing.
func NewCrossoverChecker(d Detector, store NotificationStore, pub Publisher) *CrossoverChecker {
	return &CrossoverChecker{detector: d, notifications: store, publisher: pub}
}

// Run performs one check. Failures on single crossovers are logged and
// skipped; only a failed detection cycle is returned.
func (c *CrossoverChecker) Run(ctx context.Context) (int, error) {
	start := time.Now()
	log.Info().Msg("crossover checker starting")

	detected, err := c.detector.ProcessAllActiveRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("crossover detection failed: %w", err)
	}
	log.Info().Int("crossovers", len(detected)).Msg("crossovers detected")

	for _, d := range detected {
		c.processCrossover(ctx, d)
	}

	log.Info().Int("crossovers", len(detected)).Dur("duration", time.Since(start)).
		Msg("crossover checker completed")
	return len(detected), nil
}

func (c *CrossoverChecker) processCrossover(ctx context.Context, d models.DetectedCrossover) {
	if d.Rule == nil || d.Event == nil {
		return
	}
	logger := log.With().Str("rule_id", d.Rule.ID).Str("asset_symbol", d.Event.AssetSymbol).
		Str("crossover_type", string(d.Event.Type)).Logger()

	n := models.NewNotification(d)
	if err := c.notifications.CreateNotification(ctx, n); err != nil {
		logger.Error().Err(err).Msg("failed to create notification")
		return
	}
	logger.Info().Str("notification_id", n.ID).Msg("created notification")

	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishCrossover(ctx, n); err != nil {
		logger.Error().Err(err).Str("notification_id", n.ID).Msg("failed to publish notification")
	}
}

// Trigger runs a check on demand and reports its outcome
func (c *CrossoverChecker) Trigger(ctx context.Context) TriggerResult {
	start := time.Now()
	n, err := c.Run(ctx)
	result := TriggerResult{
		Success:            err == nil,
		CrossoversDetected: n,
		Duration:           time.Since(start).Milliseconds(),
	}
	if err != nil {
		log.Error().Err(err).Msg("manual crossover check failed")
	}
	return result
}

// Start runs a check immediately and then every interval until ctx is done.
// Ticks missed while a check is running are dropped by the ticker.
func (c *CrossoverChecker) Start(ctx context.Context, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("crossover checker scheduled")

	c.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("crossover checker stopped")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *CrossoverChecker) tick(ctx context.Context) {
	if _, err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("scheduled crossover check failed")
	}
}
