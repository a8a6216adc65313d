package crossover

import (
	"time"

	"github.com/sshikora/crypto-analytics/internal/models"
)

// SkipReason explains why a rule produced no update.
type SkipReason string

// Skip reasons
const (
	SkipNone      SkipReason = ""
	SkipCooldown  SkipReason = "cooldown"
	SkipUnchanged SkipReason = "state_unchanged"
	SkipNoPrices  SkipReason = "no_prices"
)

// Decision is the outcome of evaluating one rule against a price series.
// When Skip is false, Update must be persisted; Event is set only for a
// crossover that passed the rule's direction filter.
type Decision struct {
	Skip   bool
	Reason SkipReason
	State  models.CrossoverState
	Event  *models.CrossoverEvent
	Update *models.RuleUpdate
}

// Evaluate classifies the latest step of prices for rule. It does no I/O.
func Evaluate(rule *models.CrossoverRule, prices []float64, now time.Time, cooldown time.Duration) Decision {
	if len(prices) == 0 {
		return Decision{Skip: true, Reason: SkipNoPrices, State: models.StateUnknown}
	}
	if !CooldownPassed(rule.LastTriggeredAt, now, cooldown) {
		return Decision{Skip: true, Reason: SkipCooldown, State: rule.LastCrossoverState}
	}

	state := StateOf(prices, rule)
	if state == rule.LastCrossoverState {
		return Decision{Skip: true, Reason: SkipUnchanged, State: state}
	}

	if sig := Detect(prices, rule); sig != nil && MatchesDirection(sig.Type, rule.CrossDirection) {
		triggeredAt := now
		return Decision{
			State: state,
			Event: &models.CrossoverEvent{
				Type:             sig.Type,
				AssetID:          rule.AssetID,
				AssetSymbol:      rule.AssetSymbol,
				PriceAtCrossover: prices[len(prices)-1],
				MAValues:         sig.MAValues,
				MAPeriods:        append([]int(nil), rule.MAPeriods...),
				TriggeredAt:      now,
			},
			Update: &models.RuleUpdate{
				LastCrossoverState: &state,
				LastTriggeredAt:    &triggeredAt,
			},
		}
	}

	return Decision{
		State:  state,
		Update: &models.RuleUpdate{LastCrossoverState: &state},
	}
}
