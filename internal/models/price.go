package models

import "time"

// PricePoint is a single observation of an asset price
type PricePoint struct {
	Timestamp int64   `json:"timestamp"` // unix milliseconds
	Price     float64 `json:"price"`
}

// Time returns the observation time in UTC
func (p PricePoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp).UTC()
}

// Prices extracts the price column of a series
func Prices(points []PricePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}

// Timestamps extracts the timestamp column of a series
func Timestamps(points []PricePoint) []int64 {
	out := make([]int64, len(points))
	for i, p := range points {
		out[i] = p.Timestamp
	}
	return out
}

// PriceTickEvent is a price observation published on the price topic
type PriceTickEvent struct {
	EventType string    `json:"event_type"`
	Source    string    `json:"source"`
	AssetID   string    `json:"asset_id"`
	Symbol    string    `json:"symbol"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceHistoryPoint is a persisted price observation
type PriceHistoryPoint struct {
	ID        int       `json:"id"`
	AssetID   string    `json:"asset_id"`
	Symbol    string    `json:"symbol"`
	Source    string    `json:"source"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}
