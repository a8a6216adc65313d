// Package coingecko fetches market price history from the CoinGecko REST API.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sshikora/crypto-analytics/internal/models"
)

const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// ErrUpstream is returned when CoinGecko answers with a non-2xx status
var ErrUpstream = errors.New("coingecko upstream error")

// ClientOption configures a Client
type ClientOption func(*Client)

// Client is a minimal CoinGecko API client
type Client struct {
	baseURL    string
	apiKey     string
	currency   string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a client with a 30s timeout against the public API
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		currency: "usd",
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithAPIKey sets the demo API key sent with every request
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

type marketChartResponse struct {
	Prices [][2]float64 `json:"prices"`
}

// GetPriceHistory returns the last `days` days of prices for a coin id,
// ascending by timestamp. Points that do not advance the timestamp are dropped.
func (c *Client) GetPriceHistory(ctx context.Context, assetID string, days int) ([]models.PricePoint, error) {
	if assetID == "" {
		return nil, fmt.Errorf("asset id is required")
	}
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}

	q := url.Values{}
	q.Set("vs_currency", c.currency)
	q.Set("days", strconv.Itoa(days))
	endpoint := fmt.Sprintf("%s/coins/%s/market_chart?%s", c.baseURL, url.PathEscape(assetID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price history for %s: %w", assetID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d for %s: %s", ErrUpstream, resp.StatusCode, assetID, body)
	}

	var chart marketChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return nil, fmt.Errorf("failed to decode price history for %s: %w", assetID, err)
	}

	points := make([]models.PricePoint, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		ts := int64(p[0])
		if n := len(points); n > 0 && ts <= points[n-1].Timestamp {
			continue
		}
		points = append(points, models.PricePoint{Timestamp: ts, Price: p[1]})
	}

	log.Debug().Str("asset_id", assetID).Int("days", days).Int("points", len(points)).
		Dur("duration", time.Since(start)).Msg("fetched price history")
	return points, nil
}
