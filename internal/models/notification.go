package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Notification is the persisted record of a crossover delivered to a user
type Notification struct {
	ID               string          `json:"notification_id"`
	UserID           string          `json:"user_id"`
	RuleID           string          `json:"rule_id"`
	AssetID          string          `json:"asset_id"`
	AssetSymbol      string          `json:"asset_symbol"`
	CrossoverType    CrossoverType   `json:"crossover_type"`
	MAPeriods        []int           `json:"ma_periods"`
	PriceAtCrossover decimal.Decimal `json:"price_at_crossover"`
	MAValues         []MAValue       `json:"ma_values"`
	IsRead           bool            `json:"is_read"`
	EmailRequested   bool            `json:"email_requested"`
	TriggeredAt      time.Time       `json:"triggered_at"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewNotification builds a notification record for a detected crossover
func NewNotification(d DetectedCrossover) *Notification {
	e := d.Event
	return &Notification{
		UserID:           d.Rule.UserID,
		RuleID:           d.Rule.ID,
		AssetID:          e.AssetID,
		AssetSymbol:      e.AssetSymbol,
		CrossoverType:    e.Type,
		MAPeriods:        append([]int(nil), e.MAPeriods...),
		PriceAtCrossover: decimal.NewFromFloat(e.PriceAtCrossover),
		MAValues:         append([]MAValue(nil), e.MAValues...),
		EmailRequested:   d.Rule.EmailEnabled,
		TriggeredAt:      e.TriggeredAt,
	}
}

// NotificationEvent is the message published when a crossover notification is created
type NotificationEvent struct {
	EventType    string        `json:"event_type"`
	Notification *Notification `json:"notification"`
	Timestamp    time.Time     `json:"timestamp"`
}
