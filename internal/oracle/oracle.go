// Package oracle provides best-effort current prices for assets.
// Prices may be stale or unavailable; callers skip the tick's decision
// rather than acting on a default.
package oracle

import (
	"context"
	"errors"
)

// Quote is one observed price.
type Quote struct {
	Price  float64 // USD per whole token
	AsOfMs int64   // observation timestamp (ms)
}

// Oracle errors.
var (
	// ErrPriceUnavailable is returned when no price exists for the asset.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrPriceStale is returned when the freshest known price is older
	// than the configured maximum age.
	ErrPriceStale = errors.New("price stale")
)

// PriceOracle supplies a best-effort current price for an asset mint.
type PriceOracle interface {
	GetPrice(ctx context.Context, mint string) (Quote, error)
}
