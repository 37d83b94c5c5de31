package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/gateway"
	"solana-strategy-engine/internal/ledger"
	"solana-strategy-engine/internal/oracle"
)

// fakeOracle serves scripted USD prices per mint.
type fakeOracle struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{prices: make(map[string]float64)}
}

func (o *fakeOracle) set(mint string, price float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[mint] = price
}

func (o *fakeOracle) GetPrice(_ context.Context, mint string) (oracle.Quote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.prices[mint]
	if !ok {
		return oracle.Quote{}, oracle.ErrPriceUnavailable
	}
	return oracle.Quote{Price: p, AsOfMs: 1}, nil
}

// fakeExecutor fills every request exactly at the oracle's cross price,
// unless an error is scripted.
type fakeExecutor struct {
	oracle    *fakeOracle
	quoteMint string
	err       error
	requests  []gateway.Request
	sigSeq    int

	// timeoutNext makes the next Execute time out on confirmation: the
	// trade is submitted (signature allocated) but the result arrives only
	// inside the typed error's provisional fill.
	timeoutNext bool

	confirmation ledger.Confirmation
	confirmErr   error
	confirmCalls []string
}

func (f *fakeExecutor) Execute(_ context.Context, req gateway.Request) (*gateway.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}

	tokenUSD := f.oracle.prices[req.Asset.Mint]
	quoteUSD := f.oracle.prices[f.quoteMint]
	price := tokenUSD / quoteUSD

	f.sigSeq++
	res := &gateway.Result{
		TxSignature:     fmt.Sprintf("sig-%d", f.sigSeq),
		ExecutedPrice:   price,
		SlippageBpsUsed: req.SlippageBps,
		Attempts:        1,
	}
	if req.Direction == domain.SideBuy {
		res.FilledAmount = req.Amount / price // tokens received
	} else {
		res.FilledAmount = req.Amount * price // quote units received
	}
	if f.timeoutNext {
		f.timeoutNext = false
		return nil, &gateway.ConfirmationTimeoutError{
			Signature:   res.TxSignature,
			Provisional: res,
			Waited:      time.Second,
		}
	}
	return res, nil
}

func (f *fakeExecutor) Confirm(_ context.Context, signature string) (ledger.Confirmation, error) {
	f.confirmCalls = append(f.confirmCalls, signature)
	if f.confirmErr != nil {
		return ledger.Confirmation{}, f.confirmErr
	}
	return f.confirmation, nil
}

// fakeFees charges a flat 1% with no floor and records collections.
type fakeFees struct {
	collected []string
}

func (f *fakeFees) ComputeFee(gross float64) float64 { return gross * 0.01 }

func (f *fakeFees) Collect(_ context.Context, _, tradeID string, _ float64) (*domain.FeeRecord, error) {
	f.collected = append(f.collected, tradeID)
	return &domain.FeeRecord{TradeID: tradeID, Status: domain.FeeCollected}, nil
}
