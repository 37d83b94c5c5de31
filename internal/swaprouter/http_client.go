package swaprouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"solana-strategy-engine/internal/execerr"
	"solana-strategy-engine/internal/failover"
)

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 20 * time.Second

// HTTPClient implements Router over the service's REST API. Like the ledger
// client it performs a single attempt per call and leaves retry policy to
// the gateway; transport-class failures advance the endpoint rotor.
type HTTPClient struct {
	rotor  *failover.Rotor
	client *http.Client
}

// Option configures HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.client = c }
}

// NewHTTPClient creates a router client over the given endpoints, primary
// first.
func NewHTTPClient(endpoints []string, opts ...Option) (*HTTPClient, error) {
	rotor, err := failover.NewRotor(endpoints)
	if err != nil {
		return nil, err
	}
	c := &HTTPClient{
		rotor:  rotor,
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Rotor exposes the endpoint rotor for shared metrics.
func (c *HTTPClient) Rotor() *failover.Rotor { return c.rotor }

// apiError is the service's structured error envelope. Classification keys
// off the stable Code field, never the message text.
type apiError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Structured rejection codes the service reports.
const (
	rejUnknownAsset      = "UnknownAsset"
	rejInsufficientFunds = "InsufficientFunds"
	rejInvalidAddress    = "InvalidAddress"
)

func classifyAPIError(op string, e *apiError) error {
	switch e.Error.Code {
	case rejUnknownAsset:
		return execerr.NonRetryable(op, execerr.ReasonUnknownAsset)
	case rejInsufficientFunds:
		return execerr.NonRetryable(op, execerr.ReasonInsufficientFunds)
	case rejInvalidAddress:
		return execerr.NonRetryable(op, execerr.ReasonMalformedAddress)
	}
	return execerr.New(execerr.KindTransport, op, fmt.Errorf("%s: %s", e.Error.Code, e.Error.Message))
}

// do performs one HTTP round trip against the current endpoint and returns
// the response body, classifying failures and rotating on transport errors.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	endpoint := c.rotor.Current()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.rotor.Advance(endpoint)
		return nil, execerr.New(execerr.KindTransport, op, err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.rotor.Advance(endpoint)
		return nil, execerr.New(execerr.KindTransport, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.rotor.Advance(endpoint)
		return nil, execerr.New(execerr.KindRateLimited, op, fmt.Errorf("rate limited (429)"))
	case resp.StatusCode >= 500:
		c.rotor.Advance(endpoint)
		return nil, execerr.New(execerr.KindTransport, op, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	case resp.StatusCode != http.StatusOK:
		var ae apiError
		if jsonErr := json.Unmarshal(respBody, &ae); jsonErr == nil && ae.Error != nil {
			return nil, classifyAPIError(op, &ae)
		}
		return nil, execerr.New(execerr.KindTransport, op, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody))
	}
	return respBody, nil
}

// quoteResponse is the wire format of a quote. Amounts are strings in whole
// units; PriceImpactPct likewise.
type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`
}

// Quote requests a route at the given slippage tolerance.
func (c *HTTPClient) Quote(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (*Route, error) {
	path := fmt.Sprintf("/quote?inputMint=%s&outputMint=%s&amount=%s&slippageBps=%d",
		url.QueryEscape(inputMint), url.QueryEscape(outputMint),
		strconv.FormatFloat(amount, 'f', -1, 64), slippageBps)

	body, err := c.do(ctx, "quote", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, execerr.New(execerr.KindTransport, "quote", fmt.Errorf("unmarshal quote: %w", err))
	}
	inAmount, err := strconv.ParseFloat(qr.InAmount, 64)
	if err != nil {
		return nil, execerr.New(execerr.KindTransport, "quote", fmt.Errorf("bad inAmount %q", qr.InAmount))
	}
	outAmount, err := strconv.ParseFloat(qr.OutAmount, 64)
	if err != nil {
		return nil, execerr.New(execerr.KindTransport, "quote", fmt.Errorf("bad outAmount %q", qr.OutAmount))
	}
	impact := 0.0
	if qr.PriceImpactPct != "" {
		impact, _ = strconv.ParseFloat(qr.PriceImpactPct, 64)
	}

	return &Route{
		InputMint:      qr.InputMint,
		OutputMint:     qr.OutputMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: impact,
		SlippageBps:    qr.SlippageBps,
		Raw:            json.RawMessage(body),
	}, nil
}

// swapRequest asks the service to build an executable transaction.
type swapRequest struct {
	Route         json.RawMessage `json:"route"`
	UserPublicKey string          `json:"userPublicKey"`
}

// swapResponse carries the base64 raw transaction template.
type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// BuildTransaction turns a quoted route into a raw transaction template.
func (c *HTTPClient) BuildTransaction(ctx context.Context, route *Route, signerAddress string) ([]byte, error) {
	reqBody, err := json.Marshal(swapRequest{Route: route.Raw, UserPublicKey: signerAddress})
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}

	body, err := c.do(ctx, "build", http.MethodPost, "/swap", reqBody)
	if err != nil {
		return nil, err
	}

	var sr swapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, execerr.New(execerr.KindTransport, "build", fmt.Errorf("unmarshal swap: %w", err))
	}
	rawTx, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil || len(rawTx) == 0 {
		return nil, execerr.New(execerr.KindTransport, "build", fmt.Errorf("bad swapTransaction payload"))
	}
	return rawTx, nil
}

// tokenResponse is the wire format of token metadata.
type tokenResponse struct {
	Mint     string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// TokenMetadata resolves token metadata for a mint. An unknown mint is a
// non-retryable rejection.
func (c *HTTPClient) TokenMetadata(ctx context.Context, mint string) (*TokenInfo, error) {
	body, err := c.do(ctx, "token_metadata", http.MethodGet, "/tokens/"+url.PathEscape(mint), nil)
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, execerr.New(execerr.KindTransport, "token_metadata", fmt.Errorf("unmarshal token: %w", err))
	}
	if tr.Mint == "" {
		return nil, execerr.NonRetryable("token_metadata", execerr.ReasonUnknownAsset)
	}
	return &TokenInfo{Mint: tr.Mint, Symbol: tr.Symbol, Decimals: tr.Decimals}, nil
}
