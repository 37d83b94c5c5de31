package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Default configuration values.
const (
	DefaultHTTPTimeout = 10 * time.Second
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxAge      = 60 * time.Second
)

// HTTPClient implements PriceOracle against a REST price endpoint
// (GET {base}/price?ids=<mint>).
type HTTPClient struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	maxAge     time.Duration
	now        func() time.Time
}

// HTTPOption configures HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *HTTPClient) { o.client = c }
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) HTTPOption {
	return func(o *HTTPClient) { o.maxRetries = n }
}

// WithMaxAge sets the staleness cutoff for returned prices.
func WithMaxAge(d time.Duration) HTTPOption {
	return func(o *HTTPClient) { o.maxAge = d }
}

// NewHTTPClient creates a new REST price oracle client.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: DefaultHTTPTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxAge:     DefaultMaxAge,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// priceResponse is the provider's wire format. Prices arrive as strings.
type priceResponse struct {
	Data map[string]struct {
		Price  string `json:"price"`
		AsOfMs int64  `json:"asOf,omitempty"`
	} `json:"data"`
}

// GetPrice fetches the current price for mint. A missing or stale quote is
// an error, never a default.
func (c *HTTPClient) GetPrice(ctx context.Context, mint string) (Quote, error) {
	u := fmt.Sprintf("%s/price?ids=%s", c.baseURL, url.QueryEscape(mint))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Quote{}, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		q, err := c.fetch(ctx, u, mint)
		if err != nil {
			lastErr = err
			continue
		}
		return q, nil
	}
	return Quote{}, fmt.Errorf("get price %s: %w", mint, lastErr)
}

func (c *HTTPClient) fetch(ctx context.Context, u, mint string) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return Quote{}, fmt.Errorf("unmarshal response: %w", err)
	}

	entry, ok := pr.Data[mint]
	if !ok || entry.Price == "" {
		return Quote{}, ErrPriceUnavailable
	}
	price, err := strconv.ParseFloat(entry.Price, 64)
	if err != nil || price <= 0 {
		return Quote{}, fmt.Errorf("%w: bad price %q", ErrPriceUnavailable, entry.Price)
	}

	asOf := entry.AsOfMs
	if asOf == 0 {
		asOf = c.now().UnixMilli()
	}
	if c.maxAge > 0 && c.now().UnixMilli()-asOf > c.maxAge.Milliseconds() {
		return Quote{}, ErrPriceStale
	}
	return Quote{Price: price, AsOfMs: asOf}, nil
}
