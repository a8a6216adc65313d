// Package crossover detects moving-average crossovers and tracks the
// per-rule crossover state used to avoid re-reporting the same regime.
package crossover

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sshikora/crypto-analytics/internal/indicators"
	"github.com/sshikora/crypto-analytics/internal/models"
)

// Signal is a classified crossover at the latest price point.
type Signal struct {
	Type     models.CrossoverType
	MAValues []models.MAValue
}

// DetectMACrossover compares the short and long SMAs at the two most recent
// defined points. It returns nil when short >= long, when either SMA lacks
// two defined values, or when no crossover happened on the last step.
func DetectMACrossover(prices []float64, short, long int) *Signal {
	if short >= long {
		log.Warn().Int("short", short).Int("long", long).
			Msg("short period must be less than long period for MA crossover detection")
		return nil
	}

	shortSMA := indicators.SMA(prices, short)
	longSMA := indicators.SMA(prices, long)

	curShort, ok1 := shortSMA.Current()
	curLong, ok2 := longSMA.Current()
	prevShort, ok3 := shortSMA.Previous()
	prevLong, ok4 := longSMA.Previous()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}

	values := []models.MAValue{
		{Period: short, Value: curShort},
		{Period: long, Value: curLong},
	}

	switch {
	case prevShort <= prevLong && curShort > curLong:
		return &Signal{Type: models.CrossoverGolden, MAValues: values}
	case prevShort >= prevLong && curShort < curLong:
		return &Signal{Type: models.CrossoverDeath, MAValues: values}
	}
	return nil
}

// DetectPriceMACrossover compares the last two prices with the SMA at the
// same points.
func DetectPriceMACrossover(prices []float64, period int) *Signal {
	if len(prices) < 2 {
		return nil
	}

	sma := indicators.SMA(prices, period)
	curMA, ok1 := sma.Current()
	prevMA, ok2 := sma.Previous()
	if !ok1 || !ok2 {
		return nil
	}
	curPrice := prices[len(prices)-1]
	prevPrice := prices[len(prices)-2]

	values := []models.MAValue{{Period: period, Value: curMA}}

	switch {
	case prevPrice <= prevMA && curPrice > curMA:
		return &Signal{Type: models.CrossoverPriceAbove, MAValues: values}
	case prevPrice >= prevMA && curPrice < curMA:
		return &Signal{Type: models.CrossoverPriceBelow, MAValues: values}
	}
	return nil
}

// ShortLong returns the shortest and longest period of a rule.
func ShortLong(periods []int) (short, long int) {
	if len(periods) == 0 {
		return 0, 0
	}
	sorted := append([]int(nil), periods...)
	sort.Ints(sorted)
	return sorted[0], sorted[len(sorted)-1]
}

// StateOf computes the current qualitative state of rule over prices.
func StateOf(prices []float64, rule *models.CrossoverRule) models.CrossoverState {
	switch {
	case rule.RuleType == models.RuleTypeMACrossover && len(rule.MAPeriods) >= 2:
		short, long := ShortLong(rule.MAPeriods)
		curShort, ok1 := indicators.SMA(prices, short).Current()
		curLong, ok2 := indicators.SMA(prices, long).Current()
		if !ok1 || !ok2 {
			return models.StateUnknown
		}
		if curShort > curLong {
			return models.StateShortAboveLong
		}
		return models.StateShortBelowLong

	case rule.RuleType == models.RuleTypePriceMACrossover && len(rule.MAPeriods) >= 1:
		curMA, ok := indicators.SMA(prices, rule.MAPeriods[0]).Current()
		if !ok || len(prices) == 0 {
			return models.StateUnknown
		}
		if prices[len(prices)-1] > curMA {
			return models.StatePriceAboveMA
		}
		return models.StatePriceBelowMA
	}
	return models.StateUnknown
}

// Detect runs the detector that matches the rule type.
func Detect(prices []float64, rule *models.CrossoverRule) *Signal {
	switch {
	case rule.RuleType == models.RuleTypeMACrossover && len(rule.MAPeriods) >= 2:
		short, long := ShortLong(rule.MAPeriods)
		return DetectMACrossover(prices, short, long)
	case rule.RuleType == models.RuleTypePriceMACrossover && len(rule.MAPeriods) >= 1:
		return DetectPriceMACrossover(prices, rule.MAPeriods[0])
	}
	return nil
}

// MatchesDirection reports whether a crossover type passes the direction filter.
func MatchesDirection(t models.CrossoverType, dir models.CrossDirection) bool {
	switch dir {
	case models.DirectionBoth:
		return true
	case models.DirectionAbove:
		return t == models.CrossoverGolden || t == models.CrossoverPriceAbove
	case models.DirectionBelow:
		return t == models.CrossoverDeath || t == models.CrossoverPriceBelow
	}
	return false
}

// CooldownPassed reports whether a rule last triggered at lastTriggeredAt may
// trigger again at now. A rule that never triggered is always eligible.
func CooldownPassed(lastTriggeredAt *time.Time, now time.Time, cooldown time.Duration) bool {
	if lastTriggeredAt == nil {
		return true
	}
	return now.Sub(*lastTriggeredAt) >= cooldown
}
