// Package fee computes, collects and verifies the platform fee for each
// confirmed trade. Fee accounting is advisory relative to the primary trade:
// collection failures and verification mismatches are recorded and logged,
// never rolled back into the trade.
package fee

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/ledger"
	"solana-strategy-engine/internal/observability"
	"solana-strategy-engine/internal/signer"
	"solana-strategy-engine/internal/storage"
)

// Config tunes fee computation and verification.
type Config struct {
	// RatePct is the platform fee as a fraction of gross amount.
	RatePct float64
	// Floor is the minimum fee in quote units.
	Floor float64
	// Destination is the platform fee address.
	Destination string
	// VerifyTolerance allows the on-chain delta to fall short of the
	// expected amount by at most this much (network fees land on the
	// sender, but rounding at the venue can shave the delta).
	VerifyTolerance float64
}

// DefaultConfig returns production fee defaults for the given destination.
func DefaultConfig(destination string) Config {
	return Config{
		RatePct:         0.01,
		Floor:           0.0001,
		Destination:     destination,
		VerifyTolerance: 1e-9,
	}
}

// Submitter submits a raw transfer under the gateway's throttle and retry
// discipline. Implemented by gateway.Gateway.
type Submitter interface {
	SubmitTransfer(ctx context.Context, rawTx []byte) (string, error)
}

// Ledger collects and verifies platform fees.
type Ledger struct {
	cfg       Config
	wallet    signer.Wallet
	submitter Submitter
	chain     ledger.Client
	records   storage.FeeRecordStore
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewLedger creates a fee ledger.
func NewLedger(cfg Config, wallet signer.Wallet, submitter Submitter, chain ledger.Client, records storage.FeeRecordStore, metrics *observability.Metrics) *Ledger {
	return &Ledger{
		cfg:       cfg,
		wallet:    wallet,
		submitter: submitter,
		chain:     chain,
		records:   records,
		metrics:   metrics,
		now:       time.Now,
	}
}

// ComputeFee applies the platform rate with a floor minimum.
func (l *Ledger) ComputeFee(grossAmount float64) float64 {
	f := grossAmount * l.cfg.RatePct
	if f < l.cfg.Floor {
		f = l.cfg.Floor
	}
	return f
}

// Collect submits the fee transfer for a confirmed trade and verifies it
// on-chain. Idempotent per trade: a second call for the same tradeID is a
// no-op returning the existing record. Returns the record in its final
// state; the error is non-nil only for store failures, since fee outcomes
// themselves are advisory.
func (l *Ledger) Collect(ctx context.Context, ownerID, tradeID string, amount float64) (*domain.FeeRecord, error) {
	if existing, err := l.records.GetByTradeID(ctx, tradeID); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check fee record: %w", err)
	}

	nowMs := l.now().UnixMilli()
	rec := &domain.FeeRecord{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		TradeID:     tradeID,
		Amount:      amount,
		Destination: l.cfg.Destination,
		Status:      domain.FeePending,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}
	if err := l.records.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert fee record: %w", err)
	}

	rawTx, err := signer.BuildTransferTemplate(l.wallet.PublicAddress(), l.cfg.Destination, amount)
	if err != nil {
		return l.finish(ctx, rec, domain.FeeCollectionFailed, err)
	}

	sig, err := l.submitter.SubmitTransfer(ctx, rawTx)
	if err != nil {
		return l.finish(ctx, rec, domain.FeeCollectionFailed, err)
	}
	rec.TxSignature = sig
	rec.Status = domain.FeeCollected

	status := l.Verify(ctx, sig, amount, l.cfg.Destination)
	return l.finish(ctx, rec, status, nil)
}

// Verify re-reads the confirmed transaction and checks that a balance delta
// of at least expected minus tolerance landed at the destination.
func (l *Ledger) Verify(ctx context.Context, txSig string, expected float64, destination string) domain.FeeStatus {
	delta, err := l.chain.GetBalanceDelta(ctx, txSig, destination)
	if err != nil {
		log.Printf("[fee] verification unavailable for %s: %v", txSig, err)
		return domain.FeeCollected // collected but unverified
	}
	if delta+l.cfg.VerifyTolerance < expected {
		log.Printf("[fee] AUDIT MISMATCH tx=%s expected=%.9f got=%.9f dest=%s",
			txSig, expected, delta, destination)
		return domain.FeeVerifiedMismatch
	}
	return domain.FeeVerifiedOk
}

// finish persists the record's final status. Collection errors are logged,
// not propagated: the primary trade stands regardless.
func (l *Ledger) finish(ctx context.Context, rec *domain.FeeRecord, status domain.FeeStatus, cause error) (*domain.FeeRecord, error) {
	if cause != nil {
		log.Printf("[fee] collection failed for trade %s: %v", rec.TradeID, cause)
	}
	rec.Status = status
	rec.UpdatedAtMs = l.now().UnixMilli()
	if l.metrics != nil {
		l.metrics.FeeCollections.WithLabelValues(string(status)).Inc()
	}
	if err := l.records.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("update fee record: %w", err)
	}
	return rec, nil
}
