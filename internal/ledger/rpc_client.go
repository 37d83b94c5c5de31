package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"solana-strategy-engine/internal/execerr"
	"solana-strategy-engine/internal/failover"
)

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 30 * time.Second

// lamportsPerUnit converts raw ledger balances to whole quote units.
const lamportsPerUnit = 1e9

// RPCClient implements Client over JSON-RPC 2.0 with endpoint failover.
// Each method performs a single attempt against the rotor's current
// endpoint; transport-class failures advance the rotor so the caller's next
// retry lands on the next fallback.
type RPCClient struct {
	rotor     *failover.Rotor
	client    *http.Client
	requestID atomic.Uint64
}

// RPCOption configures RPCClient.
type RPCOption func(*RPCClient)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) RPCOption {
	return func(r *RPCClient) { r.client = c }
}

// NewRPCClient creates a ledger RPC client over the given endpoints,
// primary first.
func NewRPCClient(endpoints []string, opts ...RPCOption) (*RPCClient, error) {
	rotor, err := failover.NewRotor(endpoints)
	if err != nil {
		return nil, err
	}
	c := &RPCClient{
		rotor:  rotor,
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Rotor exposes the endpoint rotor for shared metrics.
func (c *RPCClient) Rotor() *failover.Rotor { return c.rotor }

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error. The venue reports application-level
// rejections through the structured Data.Code field, never free text.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Code string `json:"code"`
	} `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Structured rejection codes the venue reports in rpcError.Data.Code.
const (
	rejInsufficientFunds = "InsufficientFunds"
	rejAccountNotFound   = "AccountNotFound"
	rejInvalidAddress    = "InvalidAddress"
	rejUnknownAsset      = "UnknownAsset"
)

// classifyRPCError maps a structured RPC rejection to an error kind.
func classifyRPCError(op string, e *rpcError) error {
	if e.Data != nil {
		switch e.Data.Code {
		case rejInsufficientFunds:
			return execerr.NonRetryable(op, execerr.ReasonInsufficientFunds)
		case rejAccountNotFound:
			return execerr.NonRetryable(op, execerr.ReasonAccountNotFound)
		case rejInvalidAddress:
			return execerr.NonRetryable(op, execerr.ReasonMalformedAddress)
		case rejUnknownAsset:
			return execerr.NonRetryable(op, execerr.ReasonUnknownAsset)
		}
	}
	// Unrecognized application errors are retried from scratch rather than
	// silently treated as terminal.
	return execerr.New(execerr.KindTransport, op, e)
}

// call performs one JSON-RPC call against the current endpoint. Transport
// failures advance the rotor before returning.
func (c *RPCClient) call(ctx context.Context, op, method string, params []interface{}, result interface{}) error {
	endpoint := c.rotor.Current()

	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.rotor.Advance(endpoint)
		return execerr.New(execerr.KindTransport, op, err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.rotor.Advance(endpoint)
		return execerr.New(execerr.KindTransport, op, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.rotor.Advance(endpoint)
		return execerr.New(execerr.KindRateLimited, op, fmt.Errorf("rate limited (429)"))
	}
	if resp.StatusCode >= 500 {
		c.rotor.Advance(endpoint)
		return execerr.New(execerr.KindTransport, op, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return execerr.New(execerr.KindTransport, op, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return execerr.New(execerr.KindTransport, op, fmt.Errorf("unmarshal response: %w", err))
	}
	if rpcResp.Error != nil {
		return classifyRPCError(op, rpcResp.Error)
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// SubmitTransaction submits a signed transaction (base64-encoded on the
// wire) and returns its signature.
func (c *RPCClient) SubmitTransaction(ctx context.Context, signedTx []byte) (string, error) {
	params := []interface{}{
		base64.StdEncoding.EncodeToString(signedTx),
		map[string]interface{}{"encoding": "base64"},
	}
	var signature string
	if err := c.call(ctx, "submit", "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	if signature == "" {
		return "", execerr.New(execerr.KindTransport, "submit", fmt.Errorf("empty signature in response"))
	}
	return signature, nil
}

// signatureStatusesResult is the raw RPC response for getSignatureStatuses.
type signatureStatusesResult struct {
	Value []*struct {
		Slot               int64           `json:"slot"`
		ConfirmationStatus string          `json:"confirmationStatus"`
		Err                json.RawMessage `json:"err"`
	} `json:"value"`
}

// GetConfirmation polls the status of a submitted signature. A confirmed
// transaction with an on-chain error reports Succeeded=false; that is an
// application outcome, not a transport failure.
func (c *RPCClient) GetConfirmation(ctx context.Context, signature string) (Confirmation, error) {
	params := []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": true},
	}
	var result signatureStatusesResult
	if err := c.call(ctx, "confirm", "getSignatureStatuses", params, &result); err != nil {
		return Confirmation{}, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return Confirmation{}, nil // not yet visible
	}

	v := result.Value[0]
	conf := Confirmation{
		Confirmed: v.ConfirmationStatus == "confirmed" || v.ConfirmationStatus == "finalized",
		Succeeded: len(v.Err) == 0 || string(v.Err) == "null",
		Slot:      v.Slot,
	}
	if !conf.Succeeded {
		conf.ErrText = string(v.Err)
	}
	return conf, nil
}

// transactionResult is the raw RPC response for getTransaction, reduced to
// the balance-delta fields.
type transactionResult struct {
	Slot int64 `json:"slot"`
	Meta *struct {
		PreBalances  []int64 `json:"preBalances"`
		PostBalances []int64 `json:"postBalances"`
	} `json:"meta"`
	Transaction *struct {
		Message *struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetBalanceDelta returns the confirmed balance change at address produced
// by the transaction, in whole quote units.
func (c *RPCClient) GetBalanceDelta(ctx context.Context, signature, address string) (float64, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{"encoding": "json", "maxSupportedTransactionVersion": 0},
	}
	var result transactionResult
	if err := c.call(ctx, "balance_delta", "getTransaction", params, &result); err != nil {
		return 0, err
	}
	if result.Meta == nil || result.Transaction == nil || result.Transaction.Message == nil {
		return 0, fmt.Errorf("transaction %s not found", signature)
	}

	keys := result.Transaction.Message.AccountKeys
	for i, key := range keys {
		if key != address {
			continue
		}
		if i >= len(result.Meta.PreBalances) || i >= len(result.Meta.PostBalances) {
			return 0, fmt.Errorf("balance arrays shorter than account index %d", i)
		}
		delta := result.Meta.PostBalances[i] - result.Meta.PreBalances[i]
		return float64(delta) / lamportsPerUnit, nil
	}
	return 0, fmt.Errorf("address %s not in transaction %s", address, signature)
}
