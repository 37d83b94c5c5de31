// Package engine contains the per-instance evaluation logic for both
// strategy kinds. Each engine loads the durable record, makes at most one
// trading decision per evaluation, and persists the outcome before returning.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/gateway"
	"solana-strategy-engine/internal/ledger"
	"solana-strategy-engine/internal/oracle"
	"solana-strategy-engine/internal/storage"
)

// Executor executes a classified trade and reads confirmation state for
// reconciliation. Satisfied by gateway.Gateway.
type Executor interface {
	Execute(ctx context.Context, req gateway.Request) (*gateway.Result, error)
	Confirm(ctx context.Context, signature string) (ledger.Confirmation, error)
}

// FeeCollector computes and collects platform fees. Satisfied by fee.Ledger.
// Collection is advisory: its errors are logged and never fail an evaluation.
type FeeCollector interface {
	ComputeFee(grossAmount float64) float64
	Collect(ctx context.Context, ownerID, tradeID string, amount float64) (*domain.FeeRecord, error)
}

// Config holds evaluation parameters shared by both engines.
type Config struct {
	// QuoteMint is the asset committed amounts are denominated in.
	QuoteMint string

	// GraceInterval suppresses exit and stop-loss checks for a freshly
	// created instance so launch noise cannot trigger an instant exit.
	GraceInterval time.Duration
}

// DefaultConfig returns production evaluation defaults.
func DefaultConfig(quoteMint string) Config {
	return Config{
		QuoteMint:     quoteMint,
		GraceInterval: 90 * time.Second,
	}
}

// reconcileDropAfter is how long an unconfirmed signature stays eligible to
// land before reconciliation treats it as dropped. The window comfortably
// exceeds the ledger's blockhash validity, so a transaction still unconfirmed
// past it can no longer confirm.
const reconcileDropAfter = 2 * time.Minute

// confirmationTimeout extracts the typed confirmation-timeout failure from a
// gateway error, or nil for every other failure.
func confirmationTimeout(err error) *gateway.ConfirmationTimeoutError {
	var timeout *gateway.ConfirmationTimeoutError
	if errors.As(err, &timeout) && timeout.Provisional != nil {
		return timeout
	}
	return nil
}

// crossPrice converts the oracle's USD quotes into quote units per token.
// Any oracle failure skips the tick's decision; the engines never act on a
// defaulted price.
func crossPrice(ctx context.Context, prices oracle.PriceOracle, tokenMint, quoteMint string) (float64, error) {
	token, err := prices.GetPrice(ctx, tokenMint)
	if err != nil {
		return 0, fmt.Errorf("token price %s: %w", tokenMint, err)
	}
	quote, err := prices.GetPrice(ctx, quoteMint)
	if err != nil {
		return 0, fmt.Errorf("quote price %s: %w", quoteMint, err)
	}
	if quote.Price <= 0 {
		return 0, fmt.Errorf("quote price %s: %w", quoteMint, oracle.ErrPriceUnavailable)
	}
	return token.Price / quote.Price, nil
}

// collectFee runs the advisory fee side path after a confirmed trade.
func collectFee(ctx context.Context, fees FeeCollector, ownerID, tradeID string, amount float64) {
	if fees == nil || amount <= 0 {
		return
	}
	if _, err := fees.Collect(ctx, ownerID, tradeID, amount); err != nil {
		log.Printf("[engine] fee collection for trade %s failed (trade unaffected): %v", tradeID, err)
	}
}

// archiveFill appends a confirmed fill to the analytic archive, best effort.
func archiveFill(ctx context.Context, archive storage.FillArchive, kind, id, ownerID string, f *domain.Fill) {
	if archive == nil {
		return
	}
	if err := archive.Append(ctx, kind, id, ownerID, f); err != nil {
		log.Printf("[engine] archive append for %s %s failed: %v", kind, id, err)
	}
}
