package oracle

import (
	"context"
	"errors"
)

// Tiered tries a primary oracle and falls back to a secondary when the
// primary has no usable price. Typically the websocket stream backed by the
// HTTP client.
type Tiered struct {
	Primary   PriceOracle
	Secondary PriceOracle
}

// GetPrice serves from Primary, falling back to Secondary on a missing or
// stale price. Any other primary error is returned as-is.
func (t Tiered) GetPrice(ctx context.Context, mint string) (Quote, error) {
	q, err := t.Primary.GetPrice(ctx, mint)
	if err == nil {
		return q, nil
	}
	if errors.Is(err, ErrPriceUnavailable) || errors.Is(err, ErrPriceStale) {
		return t.Secondary.GetPrice(ctx, mint)
	}
	return Quote{}, err
}
