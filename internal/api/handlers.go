package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/sshikora/crypto-analytics/internal/analytics"
	"github.com/sshikora/crypto-analytics/internal/coingecko"
	"github.com/sshikora/crypto-analytics/internal/database"
	"github.com/sshikora/crypto-analytics/internal/garch"
	"github.com/sshikora/crypto-analytics/internal/jobs"
	"github.com/sshikora/crypto-analytics/internal/models"
)

// Analytics serves volatility fits and chart overlays
type Analytics interface {
	FitGarch(ctx context.Context, prices []float64, timestamps []int64, symbol string) (*models.GarchModel, error)
	VolatilityForAsset(ctx context.Context, assetID, symbol string, days int) (*models.GarchModel, error)
	MovingAverages(ctx context.Context, assetID string, days int, periods []int) (*analytics.MovingAverages, error)
}

// Checker runs crossover checks on demand
type Checker interface {
	Trigger(ctx context.Context) jobs.TriggerResult
}

// RuleStore manages crossover rules
type RuleStore interface {
	CreateRule(ctx context.Context, r *models.CrossoverRule) error
	GetRule(ctx context.Context, id string) (*models.CrossoverRule, error)
	GetRulesByUser(ctx context.Context, userID string) ([]*models.CrossoverRule, error)
	CountUserRulesForAsset(ctx context.Context, userID, assetID string) (int, error)
	UpdateRule(ctx context.Context, id string, u models.RuleUpdate) (*models.CrossoverRule, error)
	DeleteRule(ctx context.Context, id string) error
}

// NotificationStore reads and acknowledges user notifications
type NotificationStore interface {
	GetNotificationsByUser(ctx context.Context, userID string, limit int, unreadOnly bool) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
}

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	analytics     Analytics
	checker       Checker
	rules         RuleStore
	notifications NotificationStore
	health        Pinger
}

// NewHandler creates a new Handler. A nil health pinger makes /health always healthy.
func NewHandler(a Analytics, c Checker, rules RuleStore, notifications NotificationStore, health Pinger) *Handler {
	return &Handler{
		analytics:     a,
		checker:       c,
		rules:         rules,
		notifications: notifications,
		health:        health,
	}
}

type volatilityRequest struct {
	Symbol     string    `json:"symbol"`
	Prices     []float64 `json:"prices"`
	Timestamps []int64   `json:"timestamps"`
}

// FitVolatility handles POST /volatility
func (h *Handler) FitVolatility(w http.ResponseWriter, r *http.Request) {
	var req volatilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	model, err := h.analytics.FitGarch(r.Context(), req.Prices, req.Timestamps, strings.ToUpper(req.Symbol))
	if err != nil {
		respondAnalyticsError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, model)
}

// GetAssetVolatility handles GET /assets/{assetId}/volatility
func (h *Handler) GetAssetVolatility(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["assetId"]
	days, err := queryInt(r, "days")
	if err != nil {
		respondError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))

	model, err := h.analytics.VolatilityForAsset(r.Context(), assetID, symbol, days)
	if err != nil {
		respondAnalyticsError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, model)
}

// GetMovingAverages handles GET /assets/{assetId}/moving-averages
func (h *Handler) GetMovingAverages(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["assetId"]
	days, err := queryInt(r, "days")
	if err != nil {
		respondError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}
	periods, err := parsePeriods(r.URL.Query().Get("periods"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.analytics.MovingAverages(r.Context(), assetID, days, periods)
	if err != nil {
		respondAnalyticsError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// TriggerCrossoverCheck handles POST /crossovers/check
func (h *Handler) TriggerCrossoverCheck(w http.ResponseWriter, r *http.Request) {
	result := h.checker.Trigger(r.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, result)
}

// GetUserRules handles GET /users/{userId}/rules
func (h *Handler) GetUserRules(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	rules, err := h.rules.GetRulesByUser(r.Context(), userID)
	if err != nil {
		respondInternal(w, err, "failed to load rules")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// CreateRule handles POST /users/{userId}/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var in models.NewRuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.UserID = mux.Vars(r)["userId"]

	if err := in.Validate(); err != nil {
		respondValidation(w, err)
		return
	}

	count, err := h.rules.CountUserRulesForAsset(r.Context(), in.UserID, in.AssetID)
	if err != nil {
		respondInternal(w, err, "failed to count rules")
		return
	}
	if count >= models.MaxRulesPerAsset {
		respondError(w, http.StatusConflict, "maximum number of rules for this asset reached")
		return
	}

	rule := in.ToRule()
	if err := h.rules.CreateRule(r.Context(), rule); err != nil {
		respondInternal(w, err, "failed to create rule")
		return
	}

	log.Info().Str("rule_id", rule.ID).Str("user_id", rule.UserID).Str("asset_id", rule.AssetID).
		Msg("crossover rule created")
	respondJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PATCH /rules/{ruleId}
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := mux.Vars(r)["ruleId"]

	var u models.RuleUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if u.IsEmpty() {
		respondError(w, http.StatusBadRequest, "no fields to update")
		return
	}
	if err := u.Validate(); err != nil {
		respondValidation(w, err)
		return
	}

	existing, err := h.rules.GetRule(r.Context(), ruleID)
	if err != nil {
		respondRuleError(w, err)
		return
	}
	if u.MAPeriods != nil && existing.RuleType == models.RuleTypeMACrossover {
		if len(lo.Uniq(u.MAPeriods)) < 2 {
			respondError(w, http.StatusBadRequest, "MA crossover requires at least 2 distinct MA periods")
			return
		}
	}

	rule, err := h.rules.UpdateRule(r.Context(), ruleID, u)
	if err != nil {
		respondRuleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /rules/{ruleId}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := mux.Vars(r)["ruleId"]
	if err := h.rules.DeleteRule(r.Context(), ruleID); err != nil {
		respondRuleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUserNotifications handles GET /users/{userId}/notifications
func (h *Handler) GetUserNotifications(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	notifications, err := h.notifications.GetNotificationsByUser(r.Context(), userID, limit, unreadOnly)
	if err != nil {
		respondInternal(w, err, "failed to load notifications")
		return
	}
	unread, err := h.notifications.CountUnreadNotifications(r.Context(), userID)
	if err != nil {
		respondInternal(w, err, "failed to count notifications")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"unread_count":  unread,
	})
}

// MarkNotificationRead handles POST /users/{userId}/notifications/{notificationId}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := h.notifications.MarkNotificationRead(r.Context(), vars["userId"], vars["notificationId"])
	switch {
	case errors.Is(err, database.ErrNotificationNotFound):
		respondError(w, http.StatusNotFound, "notification not found")
	case err != nil:
		respondInternal(w, err, "failed to mark notification read")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func respondAnalyticsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, garch.ErrInsufficientData):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, garch.ErrInvalidInput), errors.Is(err, analytics.ErrInvalidPeriods):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, analytics.ErrFitTimeout):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, coingecko.ErrUpstream):
		respondError(w, http.StatusBadGateway, "price provider unavailable")
	default:
		respondInternal(w, err, "analytics request failed")
	}
}

func respondRuleError(w http.ResponseWriter, err error) {
	if errors.Is(err, database.ErrRuleNotFound) {
		respondError(w, http.StatusNotFound, "rule not found")
		return
	}
	respondInternal(w, err, "rule operation failed")
}

func respondValidation(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid rule",
			"details": verr.Problems,
		})
		return
	}
	respondInternal(w, err, "failed to validate rule")
}

func respondInternal(w http.ResponseWriter, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	respondError(w, http.StatusInternalServerError, msg)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// queryInt returns 0 when the parameter is absent
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func parsePeriods(v string) ([]int, error) {
	if v == "" {
		return []int{7, 21}, nil
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.New("periods must be a comma-separated list of integers")
		}
		out = append(out, n)
	}
	return out, nil
}
