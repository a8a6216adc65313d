package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sshikora/crypto-analytics/internal/models"
)

const notificationColumns = `
	id, user_id, rule_id, asset_id, asset_symbol, crossover_type, ma_periods,
	price_at_crossover, ma_values, is_read, email_requested, triggered_at, created_at`

// CreateNotification persists a crossover notification and assigns its id
func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (
			id, user_id, rule_id, asset_id, asset_symbol, crossover_type, ma_periods,
			price_at_crossover, ma_values, is_read, email_requested, triggered_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	maValues, err := json.Marshal(n.MAValues)
	if err != nil {
		return fmt.Errorf("failed to encode ma values: %w", err)
	}
	var ruleID any
	if n.RuleID != "" {
		ruleID = n.RuleID
	}
	now := time.Now().UTC()

	_, err = db.conn.ExecContext(ctx, query,
		n.ID, n.UserID, ruleID, n.AssetID, n.AssetSymbol, n.CrossoverType, pq.Array(n.MAPeriods),
		n.PriceAtCrossover, maValues, n.IsRead, n.EmailRequested, n.TriggeredAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	n.CreatedAt = now
	return nil
}

// GetNotificationsByUser retrieves a user's notifications, newest first
func (db *DB) GetNotificationsByUser(ctx context.Context, userID string, limit int, unreadOnly bool) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR is_read = false)
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := db.conn.QueryContext(ctx, query, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationRead marks one of a user's notifications as read
func (db *DB) MarkNotificationRead(ctx context.Context, userID, id string) error {
	query := `UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`
	result, err := db.conn.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	}
	return nil
}

// CountUnreadNotifications counts a user's unread notifications
func (db *DB) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = false`
	var n int
	if err := db.conn.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return n, nil
}

func scanNotification(row scanner) (*models.Notification, error) {
	var n models.Notification
	var ruleID sql.NullString
	var periods pq.Int64Array
	var price string
	var maValues []byte

	err := row.Scan(
		&n.ID, &n.UserID, &ruleID, &n.AssetID, &n.AssetSymbol, &n.CrossoverType, &periods,
		&price, &maValues, &n.IsRead, &n.EmailRequested, &n.TriggeredAt, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ruleID.Valid {
		n.RuleID = ruleID.String
	}
	n.MAPeriods = make([]int, len(periods))
	for i, p := range periods {
		n.MAPeriods[i] = int(p)
	}
	n.PriceAtCrossover, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	if len(maValues) > 0 {
		if err := json.Unmarshal(maValues, &n.MAValues); err != nil {
			return nil, fmt.Errorf("invalid ma values: %w", err)
		}
	}
	return &n, nil
}
