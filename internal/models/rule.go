package models

import (
	"time"
)

// RuleType identifies what a crossover rule compares.
type RuleType string

// Rule type constants
const (
	RuleTypeMACrossover      RuleType = "MA_CROSSOVER"
	RuleTypePriceMACrossover RuleType = "PRICE_MA_CROSSOVER"
)

// CrossDirection filters which crossovers a rule reports.
type CrossDirection string

// Direction constants
const (
	DirectionAbove CrossDirection = "ABOVE"
	DirectionBelow CrossDirection = "BELOW"
	DirectionBoth  CrossDirection = "BOTH"
)

// CrossoverState is the cached qualitative relationship between the compared series.
type CrossoverState string

// State constants
const (
	StateShortAboveLong CrossoverState = "SHORT_ABOVE_LONG"
	StateShortBelowLong CrossoverState = "SHORT_BELOW_LONG"
	StatePriceAboveMA   CrossoverState = "PRICE_ABOVE_MA"
	StatePriceBelowMA   CrossoverState = "PRICE_BELOW_MA"
	StateUnknown        CrossoverState = "UNKNOWN"
)

// Rule limits
const (
	MaxMAPeriodsPerRule = 4
	MinMAPeriod         = 1
	MaxMAPeriod         = 365
	MaxRulesPerAsset    = 3
)

// CrossoverRule is a user-owned moving-average crossover alert condition
type CrossoverRule struct {
	ID                 string         `json:"rule_id"`
	UserID             string         `json:"user_id"`
	AssetID            string         `json:"asset_id"`
	AssetSymbol        string         `json:"asset_symbol"`
	RuleType           RuleType       `json:"rule_type"`
	MAPeriods          []int          `json:"ma_periods"`
	CrossDirection     CrossDirection `json:"cross_direction"`
	InAppEnabled       bool           `json:"in_app_enabled"`
	EmailEnabled       bool           `json:"email_enabled"`
	IsActive           bool           `json:"is_active"`
	LastTriggeredAt    *time.Time     `json:"last_triggered_at,omitempty"`
	LastCrossoverState CrossoverState `json:"last_crossover_state,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// MaxPeriod returns the longest moving-average period of the rule
func (r *CrossoverRule) MaxPeriod() int {
	max := 0
	for _, p := range r.MAPeriods {
		if p > max {
			max = p
		}
	}
	return max
}

// RuleUpdate is a partial update of a rule. Nil fields are left untouched.
type RuleUpdate struct {
	MAPeriods          []int           `json:"ma_periods,omitempty" validate:"omitempty,min=1,max=4,dive,min=1,max=365"`
	CrossDirection     *CrossDirection `json:"cross_direction,omitempty" validate:"omitempty,oneof=ABOVE BELOW BOTH"`
	InAppEnabled       *bool           `json:"in_app_enabled,omitempty"`
	EmailEnabled       *bool           `json:"email_enabled,omitempty"`
	IsActive           *bool           `json:"is_active,omitempty"`
	LastTriggeredAt    *time.Time      `json:"last_triggered_at,omitempty"`
	LastCrossoverState *CrossoverState `json:"last_crossover_state,omitempty"`
}

// IsEmpty reports whether the update changes nothing
func (u RuleUpdate) IsEmpty() bool {
	return u.MAPeriods == nil && u.CrossDirection == nil && u.InAppEnabled == nil &&
		u.EmailEnabled == nil && u.IsActive == nil && u.LastTriggeredAt == nil &&
		u.LastCrossoverState == nil
}

// Apply copies the set fields of u onto r
func (u RuleUpdate) Apply(r *CrossoverRule) {
	if u.MAPeriods != nil {
		r.MAPeriods = append([]int(nil), u.MAPeriods...)
	}
	if u.CrossDirection != nil {
		r.CrossDirection = *u.CrossDirection
	}
	if u.InAppEnabled != nil {
		r.InAppEnabled = *u.InAppEnabled
	}
	if u.EmailEnabled != nil {
		r.EmailEnabled = *u.EmailEnabled
	}
	if u.IsActive != nil {
		r.IsActive = *u.IsActive
	}
	if u.LastTriggeredAt != nil {
		t := *u.LastTriggeredAt
		r.LastTriggeredAt = &t
	}
	if u.LastCrossoverState != nil {
		r.LastCrossoverState = *u.LastCrossoverState
	}
}
