// Package swaprouter talks to the quote/swap routing service. Multiple
// network endpoints implement the same contract; the client treats them as
// ordered (primary, then fallbacks) behind a failover rotor.
package swaprouter

import (
	"context"
	"encoding/json"
)

// Route is a quoted swap route. Raw carries the service's full route object
// through to BuildTransaction untouched.
type Route struct {
	InputMint      string
	OutputMint     string
	InAmount       float64 // whole input units
	OutAmount      float64 // whole output units
	PriceImpactPct float64
	SlippageBps    int

	Raw json.RawMessage
}

// TokenInfo is the router's token metadata, the authoritative source of
// asset decimals resolved once at instance creation.
type TokenInfo struct {
	Mint     string
	Symbol   string
	Decimals int
}

// Router is the quote/swap service contract.
type Router interface {
	// Quote requests a route for swapping amount input units at the given
	// slippage tolerance.
	Quote(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (*Route, error)

	// BuildTransaction turns a quoted route into a raw transaction
	// template for the signer.
	BuildTransaction(ctx context.Context, route *Route, signerAddress string) ([]byte, error)

	// TokenMetadata resolves token metadata for a mint.
	TokenMetadata(ctx context.Context, mint string) (*TokenInfo, error)
}
