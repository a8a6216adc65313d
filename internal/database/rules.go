package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/sshikora/crypto-analytics/internal/models"
)

const ruleColumns = `
	id, user_id, asset_id, asset_symbol, rule_type, ma_periods, cross_direction,
	in_app_enabled, email_enabled, is_active, last_triggered_at, last_crossover_state,
	created_at, updated_at`

// CreateRule inserts a new crossover rule and assigns its id
func (db *DB) CreateRule(ctx context.Context, r *models.CrossoverRule) error {
	query := `
		INSERT INTO crossover_rules (
			id, user_id, asset_id, asset_symbol, rule_type, ma_periods, cross_direction,
			in_app_enabled, email_enabled, is_active, last_crossover_state,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.LastCrossoverState == "" {
		r.LastCrossoverState = models.StateUnknown
	}
	now := time.Now().UTC()

	_, err := db.conn.ExecContext(ctx, query,
		r.ID, r.UserID, r.AssetID, r.AssetSymbol, r.RuleType, pq.Array(r.MAPeriods), r.CrossDirection,
		r.InAppEnabled, r.EmailEnabled, r.IsActive, r.LastCrossoverState,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// GetRule retrieves a rule by id
func (db *DB) GetRule(ctx context.Context, id string) (*models.CrossoverRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM crossover_rules WHERE id = $1`
	r, err := scanRule(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

// GetRulesByUser retrieves all rules of a user, newest first
func (db *DB) GetRulesByUser(ctx context.Context, userID string) ([]*models.CrossoverRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM crossover_rules
		WHERE user_id = $1
		ORDER BY created_at DESC`
	return db.queryRules(ctx, query, userID)
}

// GetAllActiveRules retrieves every active rule in creation order
func (db *DB) GetAllActiveRules(ctx context.Context) ([]*models.CrossoverRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM crossover_rules
		WHERE is_active = true
		ORDER BY created_at, id`
	return db.queryRules(ctx, query)
}

// CountUserRulesForAsset counts the rules a user has on one asset
func (db *DB) CountUserRulesForAsset(ctx context.Context, userID, assetID string) (int, error) {
	query := `SELECT COUNT(*) FROM crossover_rules WHERE user_id = $1 AND asset_id = $2`
	var n int
	if err := db.conn.QueryRowContext(ctx, query, userID, assetID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return n, nil
}

// UpdateRule applies a partial update and returns the stored rule.
// updated_at is always bumped, even for an empty update.
func (db *DB) UpdateRule(ctx context.Context, id string, u models.RuleUpdate) (*models.CrossoverRule, error) {
	sets := []string{"updated_at = $2"}
	args := []any{id, time.Now().UTC()}
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.MAPeriods != nil {
		add("ma_periods", pq.Array(u.MAPeriods))
	}
	if u.CrossDirection != nil {
		add("cross_direction", *u.CrossDirection)
	}
	if u.InAppEnabled != nil {
		add("in_app_enabled", *u.InAppEnabled)
	}
	if u.EmailEnabled != nil {
		add("email_enabled", *u.EmailEnabled)
	}
	if u.IsActive != nil {
		add("is_active", *u.IsActive)
	}
	if u.LastTriggeredAt != nil {
		add("last_triggered_at", u.LastTriggeredAt.UTC())
	}
	if u.LastCrossoverState != nil {
		add("last_crossover_state", *u.LastCrossoverState)
	}

	query := `UPDATE crossover_rules SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + ruleColumns
	r, err := scanRule(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return r, nil
}

// DeleteRule removes a rule by id
func (db *DB) DeleteRule(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM crossover_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

func (db *DB) queryRules(ctx context.Context, query string, args ...any) ([]*models.CrossoverRule, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.CrossoverRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*models.CrossoverRule, error) {
	var r models.CrossoverRule
	var periods pq.Int64Array
	var lastTriggeredAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.UserID, &r.AssetID, &r.AssetSymbol, &r.RuleType, &periods, &r.CrossDirection,
		&r.InAppEnabled, &r.EmailEnabled, &r.IsActive, &lastTriggeredAt, &r.LastCrossoverState,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.MAPeriods = make([]int, len(periods))
	for i, p := range periods {
		r.MAPeriods[i] = int(p)
	}
	if lastTriggeredAt.Valid {
		t := lastTriggeredAt.Time
		r.LastTriggeredAt = &t
	}
	return &r, nil
}
