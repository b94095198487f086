// Package pricefeed provides the valuation service clients: a REST client
// for batch price lookups and a websocket subscriber that keeps the price
// cache warm.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// Client is the REST client for the price API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a price API client.
//
// baseURL is the API root, e.g. "https://price.jup.ag/v6". apiKey may be
// empty for public endpoints.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// priceEntry is one quote in the API response.
type priceEntry struct {
	ID    string  `json:"id"`
	Price float64 `json:"price,string"`
}

// GetPrices fetches current USD unit prices for the given asset IDs. Assets
// the feed does not know are omitted from the result map — a missing quote is
// the caller's valuation-gap case, never an error here.
func (c *Client) GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error) {
	if len(assetIDs) == 0 {
		return map[string]float64{}, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(assetIDs, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/price?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("pricefeed: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("pricefeed: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data map[string]priceEntry `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("pricefeed: decode response: %w", err)
	}

	prices := make(map[string]float64, len(result.Data))
	for id, entry := range result.Data {
		prices[id] = entry.Price
	}
	return prices, nil
}

// Compile-time interface check.
var _ domain.PriceSource = (*Client)(nil)
