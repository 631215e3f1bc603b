package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"pathfinder/internal/models"
)

// MarketDataClient looks up labor-market data for a career title. Lookups
// are I/O-bound external calls with a deterministic timeout; a timeout is a
// failure, never a hang.
type MarketDataClient interface {
	Lookup(ctx context.Context, careerTitle string) (*models.MarketData, error)
}

// HTTPMarketClient calls the external market-data service over HTTP.
type HTTPMarketClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPMarketClient creates a market-data client. timeout bounds every
// lookup, including connection setup.
func NewHTTPMarketClient(baseURL, apiKey string, timeout time.Duration) *HTTPMarketClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMarketClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Lookup fetches salary ranges, growth outlook and education pathways for a
// career title.
func (c *HTTPMarketClient) Lookup(ctx context.Context, careerTitle string) (*models.MarketData, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/careers?title=%s", c.baseURL, url.QueryEscape(careerTitle))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create market lookup request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market lookup failed for %q: %w", careerTitle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("market lookup for %q returned status %d: %s", careerTitle, resp.StatusCode, string(body))
	}

	var data models.MarketData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode market data for %q: %w", careerTitle, err)
	}
	if data.Title == "" {
		data.Title = careerTitle
	}

	log.Printf("📈 [MARKET] Lookup completed for %q", careerTitle)
	return &data, nil
}
