package crossover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/sshikora/crypto-analytics/internal/metrics"
	"github.com/sshikora/crypto-analytics/internal/models"
)

// PriceSource supplies ascending price history for an asset.
type PriceSource interface {
	GetPriceHistory(ctx context.Context, assetID string, days int) ([]models.PricePoint, error)
}

// RuleStore holds crossover rules and their cached state.
type RuleStore interface {
	GetAllActiveRules(ctx context.Context) ([]*models.CrossoverRule, error)
	UpdateRule(ctx context.Context, ruleID string, update models.RuleUpdate) (*models.CrossoverRule, error)
}

// Defaults for Config fields left at zero.
const (
	DefaultCooldown        = 24 * time.Hour
	DefaultAssetDelay      = 500 * time.Millisecond
	DefaultMinLookbackDays = 30
)

// Config holds the detector's policy settings.
type Config struct {
	Cooldown        time.Duration
	AssetDelay      time.Duration
	MinLookbackDays int
}

// Detector runs detection cycles over all active rules.
type Detector struct {
	prices PriceSource
	rules  RuleStore
	cfg    Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// cycleMu serializes cycles so rule read-modify-write never interleaves.
	cycleMu sync.Mutex
}

// NewDetector creates a detector. Zero Config fields take the defaults.
func NewDetector(prices PriceSource, rules RuleStore, cfg Config) *Detector {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.AssetDelay < 0 {
		cfg.AssetDelay = 0
	}
	if cfg.MinLookbackDays <= 0 {
		cfg.MinLookbackDays = DefaultMinLookbackDays
	}
	return &Detector{
		prices: prices,
		rules:  rules,
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// LookbackDays is the history depth fetched for rules whose longest period is maxPeriod.
func (d *Detector) LookbackDays(maxPeriod int) int {
	return lo.Max([]int{maxPeriod * 2, d.cfg.MinLookbackDays})
}

// ProcessAllActiveRules runs one detection cycle. Assets are processed
// sequentially with a fixed delay between them; a failing asset is logged
// and skipped. Only a failure to list the rules is returned.
func (d *Detector) ProcessAllActiveRules(ctx context.Context) ([]models.DetectedCrossover, error) {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	start := time.Now()
	defer func() { metrics.DetectionCycleDuration.Observe(time.Since(start).Seconds()) }()

	log.Info().Msg("starting crossover check")

	rules, err := d.rules.GetAllActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	log.Info().Int("rules", len(rules)).Msg("found active rules")
	if len(rules) == 0 {
		return nil, nil
	}

	byAsset := lo.GroupBy(rules, func(r *models.CrossoverRule) string { return r.AssetID })
	assetIDs := lo.Uniq(lo.Map(rules, func(r *models.CrossoverRule, _ int) string { return r.AssetID }))
	log.Info().Int("assets", len(assetIDs)).Msg("checking unique assets")

	var detected []models.DetectedCrossover
	for i, assetID := range assetIDs {
		if i > 0 {
			if err := d.sleep(ctx, d.cfg.AssetDelay); err != nil {
				return detected, err
			}
		}

		found, err := d.CheckAsset(ctx, assetID, byAsset[assetID])
		if err != nil {
			metrics.AssetFailures.WithLabelValues(assetID).Inc()
			log.Error().Err(err).Str("asset_id", assetID).Msg("error checking crossovers")
			continue
		}
		detected = append(detected, found...)
	}

	log.Info().Int("crossovers", len(detected)).Dur("duration", time.Since(start)).
		Msg("crossover check complete")
	return detected, nil
}

// CheckAsset evaluates every rule of one asset against a single fetch of
// its price history. Too little history is not an error: the asset is
// skipped until enough data exists.
func (d *Detector) CheckAsset(ctx context.Context, assetID string, rules []*models.CrossoverRule) ([]models.DetectedCrossover, error) {
	if len(rules) == 0 {
		return nil, nil
	}

	maxPeriod := lo.Max(lo.FlatMap(rules, func(r *models.CrossoverRule, _ int) []int { return r.MAPeriods }))
	points, err := d.prices.GetPriceHistory(ctx, assetID, d.LookbackDays(maxPeriod))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price history for %s: %w", assetID, err)
	}
	prices := models.Prices(points)
	if len(prices) == 0 || len(prices) < maxPeriod {
		log.Info().Str("asset_id", assetID).Int("points", len(prices)).Int("required", maxPeriod).
			Msg("not enough price data")
		return nil, nil
	}

	now := d.now()
	var detected []models.DetectedCrossover
	for _, rule := range rules {
		decision := Evaluate(rule, prices, now, d.cfg.Cooldown)
		if decision.Skip {
			log.Debug().Str("rule_id", rule.ID).Str("reason", string(decision.Reason)).Msg("rule skipped")
			continue
		}

		updated, err := d.rules.UpdateRule(ctx, rule.ID, *decision.Update)
		if err != nil {
			metrics.RuleUpdateFailures.Inc()
			log.Error().Err(err).Str("rule_id", rule.ID).Str("state", string(decision.State)).
				Msg("failed to persist rule state")
			continue
		}
		if updated == nil {
			updated = rule
			decision.Update.Apply(updated)
		}

		if decision.Event != nil {
			metrics.CrossoversDetected.WithLabelValues(string(decision.Event.Type)).Inc()
			log.Info().Str("rule_id", rule.ID).Str("asset_id", assetID).
				Str("crossover_type", string(decision.Event.Type)).
				Float64("price", decision.Event.PriceAtCrossover).
				Msg("crossover detected")
			detected = append(detected, models.DetectedCrossover{Rule: updated, Event: decision.Event})
		}
	}
	return detected, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
