package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshikora/crypto-analytics/internal/analytics"
	"github.com/sshikora/crypto-analytics/internal/coingecko"
	"github.com/sshikora/crypto-analytics/internal/database"
	"github.com/sshikora/crypto-analytics/internal/garch"
	"github.com/sshikora/crypto-analytics/internal/jobs"
	"github.com/sshikora/crypto-analytics/internal/models"
)

type mockAnalytics struct {
	err error

	gotSymbol  string
	gotAsset   string
	gotDays    int
	gotPeriods []int
	gotPrices  []float64
}

func (m *mockAnalytics) FitGarch(ctx context.Context, prices []float64, timestamps []int64, symbol string) (*models.GarchModel, error) {
	m.gotPrices, m.gotSymbol = prices, symbol
	if m.err != nil {
		return nil, m.err
	}
	return &models.GarchModel{Symbol: symbol, ModelType: models.ModelTypeGARCH11, Observations: len(prices) - 1}, nil
}

func (m *mockAnalytics) VolatilityForAsset(ctx context.Context, assetID, symbol string, days int) (*models.GarchModel, error) {
	m.gotAsset, m.gotSymbol, m.gotDays = assetID, symbol, days
	if m.err != nil {
		return nil, m.err
	}
	return &models.GarchModel{Symbol: symbol, ModelType: models.ModelTypeGARCH11}, nil
}

func (m *mockAnalytics) MovingAverages(ctx context.Context, assetID string, days int, periods []int) (*analytics.MovingAverages, error) {
	m.gotAsset, m.gotDays, m.gotPeriods = assetID, days, periods
	if m.err != nil {
		return nil, m.err
	}
	out := &analytics.MovingAverages{AssetID: assetID}
	for _, p := range periods {
		out.Averages = append(out.Averages, analytics.MASeries{Period: p})
	}
	return out, nil
}

type mockChecker struct {
	result jobs.TriggerResult
	calls  int
}

func (m *mockChecker) Trigger(ctx context.Context) jobs.TriggerResult {
	m.calls++
	return m.result
}

type mockRuleStore struct {
	rules    map[string]*models.CrossoverRule
	countErr error
	nextID   int
}

func newMockRuleStore() *mockRuleStore {
	return &mockRuleStore{rules: make(map[string]*models.CrossoverRule)}
}

func (m *mockRuleStore) CreateRule(ctx context.Context, r *models.CrossoverRule) error {
	m.nextID++
	r.ID = fmt.Sprintf("rule-%d", m.nextID)
	m.rules[r.ID] = r
	return nil
}

func (m *mockRuleStore) GetRule(ctx context.Context, id string) (*models.CrossoverRule, error) {
	r, ok := m.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrRuleNotFound, id)
	}
	return r, nil
}

func (m *mockRuleStore) GetRulesByUser(ctx context.Context, userID string) ([]*models.CrossoverRule, error) {
	var out []*models.CrossoverRule
	for _, r := range m.rules {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleStore) CountUserRulesForAsset(ctx context.Context, userID, assetID string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	n := 0
	for _, r := range m.rules {
		if r.UserID == userID && r.AssetID == assetID {
			n++
		}
	}
	return n, nil
}

func (m *mockRuleStore) UpdateRule(ctx context.Context, id string, u models.RuleUpdate) (*models.CrossoverRule, error) {
	r, err := m.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Apply(r)
	return r, nil
}

func (m *mockRuleStore) DeleteRule(ctx context.Context, id string) error {
	if _, ok := m.rules[id]; !ok {
		return fmt.Errorf("%w: %s", database.ErrRuleNotFound, id)
	}
	delete(m.rules, id)
	return nil
}

type mockNotificationStore struct {
	notifications []*models.Notification

	gotLimit  int
	gotUnread bool
}

func (m *mockNotificationStore) GetNotificationsByUser(ctx context.Context, userID string, limit int, unreadOnly bool) ([]*models.Notification, error) {
	m.gotLimit, m.gotUnread = limit, unreadOnly
	var out []*models.Notification
	for _, n := range m.notifications {
		if n.UserID == userID && (!unreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mockNotificationStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	for _, n := range m.notifications {
		if n.ID == id && n.UserID == userID {
			n.IsRead = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s", database.ErrNotificationNotFound, id)
}

func (m *mockNotificationStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	n := 0
	for _, x := range m.notifications {
		if x.UserID == userID && !x.IsRead {
			n++
		}
	}
	return n, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	analytics     *mockAnalytics
	checker       *mockChecker
	rules         *mockRuleStore
	notifications *mockNotificationStore
	router        http.Handler
}

func newTestServer(health Pinger) *testServer {
	s := &testServer{
		analytics:     &mockAnalytics{},
		checker:       &mockChecker{},
		rules:         newMockRuleStore(),
		notifications: &mockNotificationStore{},
	}
	s.router = SetupRoutes(NewHandler(s.analytics, s.checker, s.rules, s.notifications, health))
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(nil)
	rec := s.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])

	s = newTestServer(pingFunc(func(ctx context.Context) error { return errors.New("db down") }))
	rec = s.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(nil)
	s.do(t, "GET", "/health", nil)

	rec := s.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `crypto_analytics_http_requests_total{method="GET",route="/health",status="200"}`)
}

func TestFitVolatility(t *testing.T) {
	body := volatilityRequest{
		Symbol:     "btc",
		Prices:     []float64{100, 101, 102},
		Timestamps: []int64{1, 2, 3},
	}

	t.Run("success", func(t *testing.T) {
		s := newTestServer(nil)
		rec := s.do(t, "POST", "/api/v1/volatility", body)
		require.Equal(t, http.StatusOK, rec.Code)
		model := decode[models.GarchModel](t, rec)
		assert.Equal(t, "BTC", model.Symbol)
		assert.Equal(t, []float64{100, 101, 102}, s.analytics.gotPrices)
	})

	cases := []struct {
		name   string
		body   any
		err    error
		status int
	}{
		{"malformed body", "{", nil, http.StatusBadRequest},
		{"missing symbol", volatilityRequest{Prices: body.Prices}, nil, http.StatusBadRequest},
		{"insufficient data", body, fmt.Errorf("%w: 3 prices", garch.ErrInsufficientData), http.StatusUnprocessableEntity},
		{"invalid input", body, fmt.Errorf("%w: misaligned", garch.ErrInvalidInput), http.StatusBadRequest},
		{"timeout", body, analytics.ErrFitTimeout, http.StatusGatewayTimeout},
		{"other", body, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(nil)
			s.analytics.err = tc.err
			rec := s.do(t, "POST", "/api/v1/volatility", tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestGetAssetVolatility(t *testing.T) {
	s := newTestServer(nil)
	rec := s.do(t, "GET", "/api/v1/assets/bitcoin/volatility?symbol=btc&days=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bitcoin", s.analytics.gotAsset)
	assert.Equal(t, "BTC", s.analytics.gotSymbol)
	assert.Equal(t, 30, s.analytics.gotDays)

	rec = s.do(t, "GET", "/api/v1/assets/bitcoin/volatility", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, s.analytics.gotDays, "absent days uses the service default")

	rec = s.do(t, "GET", "/api/v1/assets/bitcoin/volatility?days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.analytics.err = fmt.Errorf("failed to load price history: %w", coingecko.ErrUpstream)
	rec = s.do(t, "GET", "/api/v1/assets/bitcoin/volatility", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetMovingAverages(t *testing.T) {
	s := newTestServer(nil)

	rec := s.do(t, "GET", "/api/v1/assets/ethereum/moving-averages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{7, 21}, s.analytics.gotPeriods)

	rec = s.do(t, "GET", "/api/v1/assets/ethereum/moving-averages?days=60&periods=5,%2010,50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{5, 10, 50}, s.analytics.gotPeriods)
	assert.Equal(t, 60, s.analytics.gotDays)
	out := decode[analytics.MovingAverages](t, rec)
	assert.Len(t, out.Averages, 3)

	rec = s.do(t, "GET", "/api/v1/assets/ethereum/moving-averages?periods=5,x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.analytics.err = fmt.Errorf("%w: period 0 out of range", analytics.ErrInvalidPeriods)
	rec = s.do(t, "GET", "/api/v1/assets/ethereum/moving-averages?periods=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerCrossoverCheck(t *testing.T) {
	s := newTestServer(nil)
	s.checker.result = jobs.TriggerResult{Success: true, CrossoversDetected: 2, Duration: 15}

	rec := s.do(t, "POST", "/api/v1/crossovers/check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[jobs.TriggerResult](t, rec)
	assert.Equal(t, 2, res.CrossoversDetected)
	assert.Equal(t, 1, s.checker.calls)

	s.checker.result = jobs.TriggerResult{Success: false}
	rec = s.do(t, "POST", "/api/v1/crossovers/check", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = s.do(t, "GET", "/api/v1/crossovers/check", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func validRuleBody() map[string]any {
	return map[string]any{
		"user_id":         "someone-else",
		"asset_id":        "bitcoin",
		"asset_symbol":    "btc",
		"rule_type":       "MA_CROSSOVER",
		"ma_periods":      []int{50, 200},
		"cross_direction": "BOTH",
		"in_app_enabled":  true,
	}
}

func TestCreateRule(t *testing.T) {
	t.Run("creates an active rule for the path user", func(t *testing.T) {
		s := newTestServer(nil)
		rec := s.do(t, "POST", "/api/v1/users/user-1/rules", validRuleBody())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rule := decode[models.CrossoverRule](t, rec)
		assert.Equal(t, "rule-1", rule.ID)
		assert.Equal(t, "user-1", rule.UserID)
		assert.Equal(t, "BTC", rule.AssetSymbol)
		assert.True(t, rule.IsActive)
		assert.Equal(t, models.StateUnknown, rule.LastCrossoverState)
	})

	t.Run("validation problems are listed", func(t *testing.T) {
		s := newTestServer(nil)
		body := validRuleBody()
		body["ma_periods"] = []int{50}
		body["in_app_enabled"] = false

		rec := s.do(t, "POST", "/api/v1/users/user-1/rules", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode[struct {
			Details []string `json:"details"`
		}](t, rec)
		assert.Len(t, resp.Details, 2)
		assert.Empty(t, s.rules.rules)
	})

	t.Run("per-asset limit", func(t *testing.T) {
		s := newTestServer(nil)
		for i := 0; i < models.MaxRulesPerAsset; i++ {
			require.Equal(t, http.StatusCreated, s.do(t, "POST", "/api/v1/users/user-1/rules", validRuleBody()).Code)
		}
		rec := s.do(t, "POST", "/api/v1/users/user-1/rules", validRuleBody())
		assert.Equal(t, http.StatusConflict, rec.Code)

		body := validRuleBody()
		body["asset_id"] = "ethereum"
		assert.Equal(t, http.StatusCreated, s.do(t, "POST", "/api/v1/users/user-1/rules", body).Code)
	})

	t.Run("store failure", func(t *testing.T) {
		s := newTestServer(nil)
		s.rules.countErr = errors.New("db down")
		rec := s.do(t, "POST", "/api/v1/users/user-1/rules", validRuleBody())
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGetUserRules(t *testing.T) {
	s := newTestServer(nil)
	s.do(t, "POST", "/api/v1/users/user-1/rules", validRuleBody())
	s.do(t, "POST", "/api/v1/users/user-2/rules", validRuleBody())

	rec := s.do(t, "GET", "/api/v1/users/user-1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Rules []models.CrossoverRule `json:"rules"`
	}](t, rec)
	require.Len(t, resp.Rules, 1)
	assert.Equal(t, "user-1", resp.Rules[0].UserID)
}

func TestUpdateRule(t *testing.T) {
	s := newTestServer(nil)
	require.Equal(t, http.StatusCreated, s.do(t, "POST", "/api/v1/users/user-1/rules", validRuleBody()).Code)

	rec := s.do(t, "PATCH", "/api/v1/rules/rule-1", map[string]any{"ma_periods": []int{20, 50}, "is_active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rule := decode[models.CrossoverRule](t, rec)
	assert.Equal(t, []int{20, 50}, rule.MAPeriods)
	assert.False(t, rule.IsActive)

	cases := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"empty update", "/api/v1/rules/rule-1", map[string]any{}, http.StatusBadRequest},
		{"single period on MA crossover", "/api/v1/rules/rule-1", map[string]any{"ma_periods": []int{20, 20}}, http.StatusBadRequest},
		{"bad direction", "/api/v1/rules/rule-1", map[string]any{"cross_direction": "SIDEWAYS"}, http.StatusBadRequest},
		{"detector state", "/api/v1/rules/rule-1", map[string]any{"last_crossover_state": "SHORT_ABOVE_LONG"}, http.StatusBadRequest},
		{"unknown rule", "/api/v1/rules/nope", map[string]any{"is_active": true}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, s.do(t, "PATCH", tc.path, tc.body).Code)
		})
	}
}

func TestDeleteRule(t *testing.T) {
	s := newTestServer(nil)
	s.do(t, "POST", "/api/v1/users/user-1/rules", validRuleBody())

	assert.Equal(t, http.StatusNoContent, s.do(t, "DELETE", "/api/v1/rules/rule-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "DELETE", "/api/v1/rules/rule-1", nil).Code)
}

func TestNotifications(t *testing.T) {
	s := newTestServer(nil)
	s.notifications.notifications = []*models.Notification{
		{ID: "n-1", UserID: "user-1", AssetSymbol: "BTC", CrossoverType: models.CrossoverGolden},
		{ID: "n-2", UserID: "user-1", AssetSymbol: "ETH", CrossoverType: models.CrossoverDeath, IsRead: true},
		{ID: "n-3", UserID: "user-2", AssetSymbol: "SOL", CrossoverType: models.CrossoverGolden},
	}

	rec := s.do(t, "GET", "/api/v1/users/user-1/notifications?limit=10&unread=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Notifications []models.Notification `json:"notifications"`
		UnreadCount   int                   `json:"unread_count"`
	}](t, rec)
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "n-1", resp.Notifications[0].ID)
	assert.Equal(t, 1, resp.UnreadCount)
	assert.Equal(t, 10, s.notifications.gotLimit)
	assert.True(t, s.notifications.gotUnread)

	assert.Equal(t, http.StatusBadRequest, s.do(t, "GET", "/api/v1/users/user-1/notifications?limit=abc", nil).Code)

	assert.Equal(t, http.StatusNoContent, s.do(t, "POST", "/api/v1/users/user-1/notifications/n-1/read", nil).Code)
	assert.True(t, s.notifications.notifications[0].IsRead)
	assert.Equal(t, http.StatusNotFound, s.do(t, "POST", "/api/v1/users/user-1/notifications/n-3/read", nil).Code)
}
