// Package advisor is the HTTP client for the AI strategy advisor. The
// advisor is an opaque collaborator: vaultbot sends a risk tier and receives
// target percentages, nothing more.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// Client calls the advisor service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an advisor client. The short timeout is deliberate: the
// orchestrator has a deterministic fallback, so a slow advisor should lose
// to it quickly.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// TargetAllocation asks the advisor for the target percentage vector for a
// risk tier. Transport faults, throttling, and malformed responses all
// surface as domain.ErrAdvisorUnavailable so the caller can fall back.
func (c *Client) TargetAllocation(ctx context.Context, tier domain.RiskTier) (domain.Allocation, error) {
	endpoint := c.baseURL + "/allocation?" + url.Values{"risk_tier": {string(tier)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Allocation{}, fmt.Errorf("advisor: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return domain.Allocation{}, fmt.Errorf("advisor: %w", err)
		}
		return domain.Allocation{}, fmt.Errorf("advisor: %v: %w", err, domain.ErrAdvisorUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Allocation{}, fmt.Errorf("advisor: status %d: %s: %w",
			resp.StatusCode, string(body), domain.ErrAdvisorUnavailable)
	}

	var result struct {
		Allocation domain.Allocation `json:"allocation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.Allocation{}, fmt.Errorf("advisor: decode response: %v: %w", err, domain.ErrAdvisorUnavailable)
	}
	return result.Allocation, nil
}

// Compile-time interface check.
var _ domain.Advisor = (*Client)(nil)
