package models

import "time"

// CrossoverType classifies a detected transition
type CrossoverType string

// Crossover type constants
const (
	CrossoverGolden     CrossoverType = "GOLDEN_CROSS"
	CrossoverDeath      CrossoverType = "DEATH_CROSS"
	CrossoverPriceAbove CrossoverType = "PRICE_ABOVE_MA"
	CrossoverPriceBelow CrossoverType = "PRICE_BELOW_MA"
)

// IsUpward reports whether the crossover is a bullish one
func (t CrossoverType) IsUpward() bool {
	return t == CrossoverGolden || t == CrossoverPriceAbove
}

// MAValue is a moving average value for one period
type MAValue struct {
	Period int     `json:"period"`
	Value  float64 `json:"value"`
}

// CrossoverEvent is an immutable record of a detected crossover
type CrossoverEvent struct {
	Type             CrossoverType `json:"type"`
	AssetID          string        `json:"asset_id"`
	AssetSymbol      string        `json:"asset_symbol"`
	PriceAtCrossover float64       `json:"price_at_crossover"`
	MAValues         []MAValue     `json:"ma_values"`
	MAPeriods        []int         `json:"ma_periods"`
	TriggeredAt      time.Time     `json:"triggered_at"`
}

// MAValue returns the moving average recorded for period
func (e *CrossoverEvent) MAValue(period int) (float64, bool) {
	for _, v := range e.MAValues {
		if v.Period == period {
			return v.Value, true
		}
	}
	return 0, false
}

// DetectedCrossover binds an event to the rule that produced it
type DetectedCrossover struct {
	Rule  *CrossoverRule  `json:"rule"`
	Event *CrossoverEvent `json:"event"`
}
