// Package privacy is the REST client for the privacy-balance service that
// custodies vault sub-account cash and moves funds between them. It supports
// two execution modes: direct execution, and preparing an unsigned payload
// for external signing.
package privacy

import (
	"bytes"
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

// Client calls the privacy-balance service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a privacy-balance client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// transferRequest is the request body shared by Execute and Prepare.
type transferRequest struct {
	Source string  `json:"source"`
	Dest   string  `json:"dest"`
	Amount float64 `json:"amount"`
}

// Execute submits a transfer between two accounts. An insufficient-balance
// rejection surfaces as domain.ErrInsufficientBalance; every other rejection
// is returned inside the receipt.
func (c *Client) Execute(ctx context.Context, source, dest string, amount float64) (domain.TransferReceipt, error) {
	var result struct {
		Success     bool   `json:"success"`
		ReferenceID string `json:"reference_id"`
		Error       string `json:"error"`
	}
	if err := c.post(ctx, "/transfers/execute", transferRequest{Source: source, Dest: dest, Amount: amount}, &result); err != nil {
		return domain.TransferReceipt{}, err
	}
	return domain.TransferReceipt{
		Success:     result.Success,
		ReferenceID: result.ReferenceID,
		Error:       result.Error,
	}, nil
}

// Prepare builds the same transfer but returns an unsigned payload for
// external signing instead of submitting it.
func (c *Client) Prepare(ctx context.Context, source, dest string, amount float64) (domain.UnsignedTransfer, error) {
	var result struct {
		Payload []byte `json:"payload"`
	}
	if err := c.post(ctx, "/transfers/prepare", transferRequest{Source: source, Dest: dest, Amount: amount}, &result); err != nil {
		return domain.UnsignedTransfer{}, err
	}
	return domain.UnsignedTransfer{
		Payload:       result.Payload,
		SourceAccount: source,
		DestAccount:   dest,
		Amount:        amount,
	}, nil
}

// Balances returns the cash held by each vault sub-account of the wallet
// plus any undistributed wallet cash.
func (c *Client) Balances(ctx context.Context, wallet string) (domain.VaultBalances, error) {
	endpoint := c.baseURL + "/balances?" + url.Values{"wallet": {wallet}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.VaultBalances{}, fmt.Errorf("privacy: create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.VaultBalances{}, fmt.Errorf("privacy: get balances: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return domain.VaultBalances{}, fmt.Errorf("privacy: get balances: %w", err)
	}

	var result struct {
		Vaults     map[string]float64 `json:"vaults"`
		WalletCash float64            `json:"wallet_cash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.VaultBalances{}, fmt.Errorf("privacy: decode balances: %w", err)
	}

	balances := domain.VaultBalances{
		Vaults:     make(map[domain.VaultID]float64, len(result.Vaults)),
		WalletCash: result.WalletCash,
	}
	for name, amount := range result.Vaults {
		vault := domain.VaultID(name)
		if !vault.Valid() {
			continue
		}
		balances.Vaults[vault] = amount
	}
	return balances, nil
}

// post sends a JSON body and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("privacy: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("privacy: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("privacy: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("privacy: %s: %w", path, err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("privacy: %s: decode response: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

// checkStatus maps HTTP-level rejections to domain errors.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return domain.ErrInsufficientBalance
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Compile-time interface check.
var _ domain.TransferExecutor = (*Client)(nil)
