// Package jupiter is the swap aggregator client used to rotate a vault
// sub-account between the stable asset and its benchmark asset.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// Client calls the swap aggregator.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a swap client for the aggregator API root.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// swapRequest is the order body. Amount is denominated in USD; the
// aggregator resolves the input quantity from the current quote.
type swapRequest struct {
	Account   string  `json:"account"`
	FromAsset string  `json:"from_asset"`
	ToAsset   string  `json:"to_asset"`
	AmountUSD float64 `json:"amount_usd"`
}

// Swap trades amount USD worth of fromAsset into toAsset inside the given
// sub-account. Aggregator-level rejections come back inside the receipt;
// only transport and protocol faults are errors.
func (c *Client) Swap(ctx context.Context, account, fromAsset, toAsset string, amount float64) (domain.TransferReceipt, error) {
	payload, err := json.Marshal(swapRequest{
		Account:   account,
		FromAsset: fromAsset,
		ToAsset:   toAsset,
		AmountUSD: amount,
	})
	if err != nil {
		return domain.TransferReceipt{}, fmt.Errorf("jupiter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return domain.TransferReceipt{}, fmt.Errorf("jupiter: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TransferReceipt{}, fmt.Errorf("jupiter: swap: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.TransferReceipt{}, fmt.Errorf("jupiter: %w", domain.ErrRateLimited)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return domain.TransferReceipt{}, fmt.Errorf("jupiter: %w", domain.ErrInsufficientBalance)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.TransferReceipt{}, fmt.Errorf("jupiter: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Success     bool   `json:"success"`
		ReferenceID string `json:"reference_id"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.TransferReceipt{}, fmt.Errorf("jupiter: decode response: %w", err)
	}
	return domain.TransferReceipt{
		Success:     result.Success,
		ReferenceID: result.ReferenceID,
		Error:       result.Error,
	}, nil
}

// Compile-time interface check.
var _ domain.SwapService = (*Client)(nil)
