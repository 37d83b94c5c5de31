package service

import (
	"context"
	"fmt"

	"solana-strategy-engine/internal/domain"
)

// StrategySnapshot is a read-only view of a strategy with unrealized figures
// computed at the current oracle price. Prices here are informational; the
// engine re-reads its own price at the next tick.
type StrategySnapshot struct {
	Strategy *domain.AccumulationStrategy

	CurrentPrice    float64
	UnrealizedValue float64 // quantity held at current price, quote units
	UnrealizedPnL   float64 // vs net committed
	UnrealizedPct   float64
}

// GridSnapshot mirrors StrategySnapshot for grids.
type GridSnapshot struct {
	Grid *domain.Grid

	CurrentPrice    float64
	UnrealizedValue float64
	UnrealizedPnL   float64 // held value vs committed total
	ArmedBuyRungs   int
	ArmedSellRungs  int
}

// SnapshotStrategy computes the owner-facing view of one strategy.
func (s *Service) SnapshotStrategy(ctx context.Context, ownerID, id string) (*StrategySnapshot, error) {
	st, err := s.strategies.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	price, err := s.currentPrice(ctx, st.Asset.Mint)
	if err != nil {
		return nil, fmt.Errorf("snapshot strategy %s: %w", id, err)
	}

	snap := &StrategySnapshot{
		Strategy:        st,
		CurrentPrice:    price,
		UnrealizedValue: st.QuantityHeld * price,
	}
	if net := st.NetCommitted(); net > 0 {
		snap.UnrealizedPnL = snap.UnrealizedValue - net
		snap.UnrealizedPct = snap.UnrealizedPnL / net
	}
	return snap, nil
}

// SnapshotGrid computes the owner-facing view of one grid.
func (s *Service) SnapshotGrid(ctx context.Context, ownerID, id string) (*GridSnapshot, error) {
	g, err := s.grids.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	price, err := s.currentPrice(ctx, g.Asset.Mint)
	if err != nil {
		return nil, fmt.Errorf("snapshot grid %s: %w", id, err)
	}

	snap := &GridSnapshot{
		Grid:            g,
		CurrentPrice:    price,
		UnrealizedValue: g.QuantityHeld * price,
		UnrealizedPnL:   g.QuantityHeld*price - g.CommittedTotal,
	}
	for i := range g.BuyRungs {
		if g.BuyRungs[i].Armed() {
			snap.ArmedBuyRungs++
		}
	}
	for i := range g.SellRungs {
		if g.SellRungs[i].Armed() {
			snap.ArmedSellRungs++
		}
	}
	return snap, nil
}

// currentPrice converts the oracle's USD quotes to quote units per token.
func (s *Service) currentPrice(ctx context.Context, mint string) (float64, error) {
	token, err := s.prices.GetPrice(ctx, mint)
	if err != nil {
		return 0, err
	}
	quote, err := s.prices.GetPrice(ctx, s.quoteMint)
	if err != nil {
		return 0, err
	}
	if quote.Price <= 0 {
		return 0, fmt.Errorf("quote asset price unavailable")
	}
	return token.Price / quote.Price, nil
}
