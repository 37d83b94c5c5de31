// Package signer provides the wallet capability the engine consumes: sign
// and submit a prepared transaction template. The engine never reads or
// stores key material; custody beyond the local development wallet is an
// external concern.
package signer

import (
	"context"
	"encoding/json"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Wallet signs and submits raw transaction templates.
type Wallet interface {
	// PublicAddress returns the wallet's base58 public address.
	PublicAddress() string

	// SignAndSubmit signs a raw transaction template and submits it,
	// returning the transaction signature. Submission is not confirmation.
	SignAndSubmit(ctx context.Context, rawTx []byte) (string, error)
}

// transferTemplate is the raw template for a plain balance transfer, used by
// the fee ledger. Lamports are the ledger's smallest unit (1e9 per unit).
type transferTemplate struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	To       string `json:"to"`
	Lamports int64  `json:"lamports"`
}

// BuildTransferTemplate builds a raw transfer template from the wallet's
// address to a destination. Amount is in whole quote units.
func BuildTransferTemplate(from, to string, amount float64) ([]byte, error) {
	if err := ValidateAddress(to); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("non-positive transfer amount %f", amount)
	}
	raw, err := json.Marshal(transferTemplate{
		Type:     "transfer",
		From:     from,
		To:       to,
		Lamports: int64(amount * 1e9),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal transfer template: %w", err)
	}
	return raw, nil
}

// ValidateAddress checks that addr is a well-formed base58 address whose 32
// bytes decode to a point on the ed25519 curve. Catches transposed and
// truncated addresses before any funds move toward them.
func ValidateAddress(addr string) error {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("address is %d bytes, want 32", len(decoded))
	}
	if _, err := new(edwards25519.Point).SetBytes(decoded); err != nil {
		return fmt.Errorf("address not on curve: %w", err)
	}
	return nil
}
