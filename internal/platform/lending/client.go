// Package lending is the client for the lending venue that backs the yield
// vault: deposits move idle stable cash into the venue, withdrawals bring it
// back when the vault is over target.
package lending

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

// Client calls the lending venue API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a lending client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// positionRequest is the body shared by Deposit and Withdraw.
type positionRequest struct {
	Account   string  `json:"account"`
	AmountUSD float64 `json:"amount_usd"`
}

// Deposit lends amount USD from the account's idle cash.
func (c *Client) Deposit(ctx context.Context, account string, amount float64) (domain.TransferReceipt, error) {
	return c.post(ctx, "/positions/deposit", account, amount)
}

// Withdraw redeems amount USD from the account's lending position.
func (c *Client) Withdraw(ctx context.Context, account string, amount float64) (domain.TransferReceipt, error) {
	return c.post(ctx, "/positions/withdraw", account, amount)
}

func (c *Client) post(ctx context.Context, path, account string, amount float64) (domain.TransferReceipt, error) {
	payload, err := json.Marshal(positionRequest{Account: account, AmountUSD: amount})
	if err != nil {
		return domain.TransferReceipt{}, fmt.Errorf("lending: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return domain.TransferReceipt{}, fmt.Errorf("lending: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TransferReceipt{}, fmt.Errorf("lending: %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.TransferReceipt{}, fmt.Errorf("lending: %w", domain.ErrRateLimited)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return domain.TransferReceipt{}, fmt.Errorf("lending: %w", domain.ErrInsufficientBalance)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.TransferReceipt{}, fmt.Errorf("lending: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Success     bool   `json:"success"`
		ReferenceID string `json:"reference_id"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.TransferReceipt{}, fmt.Errorf("lending: decode response: %w", err)
	}
	return domain.TransferReceipt{
		Success:     result.Success,
		ReferenceID: result.ReferenceID,
		Error:       result.Error,
	}, nil
}

// Compile-time interface check.
var _ domain.YieldService = (*Client)(nil)
