package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sshikora/crypto-analytics/internal/models"
)

// SavePricePoints upserts a batch of price observations keyed by (asset_id, ts)
func (db *DB) SavePricePoints(ctx context.Context, points []*models.PriceHistoryPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_history (asset_id, symbol, source, price, ts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset_id, ts) DO UPDATE SET
			price = EXCLUDED.price,
			symbol = EXCLUDED.symbol,
			source = EXCLUDED.source
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range points {
		err := stmt.QueryRowContext(ctx, p.AssetID, p.Symbol, p.Source, p.Price, p.Timestamp.UTC(), now).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("failed to save price for %s: %w", p.AssetID, err)
		}
		p.CreatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PricePointExists checks whether an observation for asset at ts is stored
func (db *DB) PricePointExists(ctx context.Context, assetID string, ts time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM price_history WHERE asset_id = $1 AND ts = $2)`
	var exists bool
	if err := db.conn.QueryRowContext(ctx, query, assetID, ts.UTC()).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check price existence: %w", err)
	}
	return exists, nil
}

// GetPriceHistory returns the last `days` days of stored prices, oldest first
func (db *DB) GetPriceHistory(ctx context.Context, assetID string, days int) ([]models.PricePoint, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	query := `
		SELECT ts, price
		FROM price_history
		WHERE asset_id = $1 AND ts >= $2
		ORDER BY ts ASC
	`
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	rows, err := db.conn.QueryContext(ctx, query, assetID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var ts time.Time
		var price float64
		if err := rows.Scan(&ts, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price history: %w", err)
		}
		points = append(points, models.PricePoint{Timestamp: ts.UnixMilli(), Price: price})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price history: %w", err)
	}
	return points, nil
}

// DeletePriceHistoryOlderThan removes observations older than a specified time
func (db *DB) DeletePriceHistoryOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM price_history WHERE ts < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old price history: %w", err)
	}
	return result.RowsAffected()
}
