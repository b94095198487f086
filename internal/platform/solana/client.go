// Package solana is a minimal JSON-RPC client for the ledger service: it
// lists an account's transaction signatures and resolves them into parsed
// records carrying memo instructions.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// memoProgram is the parsed-instruction program name under which the ledger
// exposes text memos.
const memoProgram = "spl-memo"

// Client talks to a Solana-compatible RPC endpoint.
type Client struct {
	rpcURL     string
	httpClient *http.Client
}

// NewClient creates a Client for the given RPC endpoint, e.g.
// "https://api.mainnet-beta.solana.com".
func NewClient(rpcURL string) *Client {
	return &Client{
		rpcURL: rpcURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// rpcRequest is the standard JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is the standard JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ListTransactionSignatures returns up to limit signatures for the account,
// most recent first, via getSignaturesForAddress.
func (c *Client) ListTransactionSignatures(ctx context.Context, account string, limit int) ([]string, error) {
	params := []any{account, map[string]any{"limit": limit}}

	var result []struct {
		Signature string `json:"signature"`
	}
	if err := c.call(ctx, "getSignaturesForAddress", params, &result); err != nil {
		return nil, fmt.Errorf("solana: list signatures for %s: %w", account, err)
	}

	signatures := make([]string, 0, len(result))
	for _, entry := range result {
		signatures = append(signatures, entry.Signature)
	}
	return signatures, nil
}

// parsedTransaction mirrors the jsonParsed getTransaction result, reduced to
// the fields the reader needs.
type parsedTransaction struct {
	Slot        uint64 `json:"slot"`
	BlockTime   *int64 `json:"blockTime"`
	Transaction struct {
		Message struct {
			Instructions []struct {
				Program string          `json:"program"`
				Parsed  json.RawMessage `json:"parsed"`
			} `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetParsedTransactions resolves each signature with getTransaction
// (jsonParsed encoding) and extracts memo instructions. Signatures the node
// no longer knows resolve to a record with no memos rather than an error.
func (c *Client) GetParsedTransactions(ctx context.Context, signatures []string) ([]domain.TransactionRecord, error) {
	records := make([]domain.TransactionRecord, 0, len(signatures))

	for _, sig := range signatures {
		params := []any{sig, map[string]any{
			"encoding":                       "jsonParsed",
			"maxSupportedTransactionVersion": 0,
		}}

		var parsed *parsedTransaction
		if err := c.call(ctx, "getTransaction", params, &parsed); err != nil {
			return nil, fmt.Errorf("solana: get transaction %s: %w", sig, err)
		}
		if parsed == nil {
			records = append(records, domain.TransactionRecord{Signature: sig})
			continue
		}

		record := domain.TransactionRecord{
			Signature: sig,
			Slot:      parsed.Slot,
		}
		if parsed.BlockTime != nil {
			record.BlockTime = time.Unix(*parsed.BlockTime, 0).UTC()
		}
		for _, ins := range parsed.Transaction.Message.Instructions {
			if ins.Program != memoProgram {
				continue
			}
			// The memo program's parsed payload is the raw memo string.
			var memo string
			if err := json.Unmarshal(ins.Parsed, &memo); err != nil {
				continue
			}
			record.Memos = append(record.Memos, memo)
		}
		records = append(records, record)
	}

	return records, nil
}

// call performs one JSON-RPC request and decodes the result into out.
// HTTP 429 and the node's throttling error code surface as
// domain.ErrRateLimited so the reader's backoff can distinguish them.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		if envelope.Error.Code == -32005 { // node is behind / throttled
			return domain.ErrRateLimited
		}
		return fmt.Errorf("rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.LedgerService = (*Client)(nil)
