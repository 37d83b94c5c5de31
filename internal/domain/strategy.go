package domain

import "math"

// AccumulationParams are the owner-supplied parameters of an accumulation
// strategy. They are immutable after creation.
type AccumulationParams struct {
	InitialStepSize float64 // quote units spent on the entry (step 0) buy
	TriggerDropPct  float64 // drop from last fill price that arms the next step (0.05 = 5%)
	StepMultiplier  float64 // size multiplier per step
	MaxSteps        int     // maximum step index
	ProfitTargetPct float64 // full-exit target vs net committed
	StopLossPct     float64 // full-exit loss limit vs net committed
	SlippageBps     int     // starting slippage tolerance
	MaxSlippageBps  int     // ceiling the gateway may escalate to
	MaxCommitment   float64 // hard cap on cumulative committed quote units
}

// AccumulationStrategy is the durable record of one accumulation instance.
// Mutated only by the engine's own evaluation path; aggregates are always
// derivable from the fill log (see RecomputeFromFills).
type AccumulationStrategy struct {
	ID      string
	OwnerID string
	Asset   Asset
	Params  AccumulationParams

	Status     InstanceStatus
	StopReason string

	StepIndex      int     // last executed step; entry buy is step 0
	CommittedGross float64 // cumulative quote units spent this cycle
	FeesPaid       float64 // cumulative platform fees this cycle
	QuantityHeld   float64 // tokens currently held
	AvgEntryPrice  float64 // volume-weighted average entry price
	LastFillPrice  float64 // executed price of the latest fill
	HighPrice      float64 // running high since cycle start
	LowPrice       float64 // running low since cycle start

	Fills                  []Fill
	CycleCount             int
	LifetimeRealizedProfit float64 // quote units, across all completed cycles

	// PendingAction is persisted immediately before a trade is handed to the
	// gateway and cleared once the outcome is known. A confirmation that
	// outlives its evaluation upgrades the marker to a PendingTrade so the
	// next tick reconciles the signature; a bare marker at rehydration marks
	// a crash mid-trade and aggregates are rebuilt from the fill log.
	PendingAction string

	LastError   string // stable failure reason surfaced to the owner
	CreatedAtMs int64
	UpdatedAtMs int64
}

// NetCommitted is the committed amount net of fees already paid. Profit and
// loss percentages are measured against this figure.
func (s *AccumulationStrategy) NetCommitted() float64 {
	return s.CommittedGross - s.FeesPaid
}

// CycleOpen reports whether the current cycle holds a position. A fresh
// instance and a just-reset cycle both report false until the entry buy.
func (s *AccumulationStrategy) CycleOpen() bool {
	return s.CommittedGross > 0
}

// NextStepSize returns the quote-unit size of the next step buy.
func (s *AccumulationStrategy) NextStepSize() float64 {
	if !s.CycleOpen() {
		return s.Params.InitialStepSize
	}
	return s.Params.InitialStepSize * math.Pow(s.Params.StepMultiplier, float64(s.StepIndex+1))
}

// WouldBreachCommitment reports whether spending size more quote units would
// exceed the configured maximum total commitment.
func (s *AccumulationStrategy) WouldBreachCommitment(size float64) bool {
	return s.CommittedGross+size > s.Params.MaxCommitment
}

// ObservePrice updates the running high/low watermarks.
func (s *AccumulationStrategy) ObservePrice(p float64) {
	if s.HighPrice == 0 || p > s.HighPrice {
		s.HighPrice = p
	}
	if s.LowPrice == 0 || p < s.LowPrice {
		s.LowPrice = p
	}
}

// ApplyBuyFill appends a step-buy fill and updates cycle aggregates.
func (s *AccumulationStrategy) ApplyBuyFill(f Fill) {
	entry := !s.CycleOpen()
	s.Fills = append(s.Fills, f)
	if !entry {
		// Entry buy stays at step 0; each later fill advances the step.
		s.StepIndex++
	}
	s.CommittedGross += f.SpentAmount
	s.FeesPaid += f.FeePaid
	s.QuantityHeld += f.ReceivedSize
	if s.QuantityHeld > 0 {
		s.AvgEntryPrice = s.CommittedGross / s.QuantityHeld
	}
	s.LastFillPrice = f.ExecutedPrice
	s.TimestampTouch(f.TimestampMs)
}

// ApplyExitFill appends a full-exit sell fill, realizes profit for the cycle,
// and resets the cycle state. The caller decides whether the instance stays
// active (profit-taking opens a new cycle) or stops (loss limit).
// Returns the realized profit of the closed cycle.
func (s *AccumulationStrategy) ApplyExitFill(f Fill) float64 {
	s.Fills = append(s.Fills, f)
	realized := f.ReceivedSize - f.FeePaid - s.NetCommitted()
	s.LifetimeRealizedProfit += realized
	s.CycleCount++

	s.StepIndex = 0
	s.CommittedGross = 0
	s.FeesPaid = 0
	s.QuantityHeld = 0
	s.AvgEntryPrice = 0
	s.LastFillPrice = 0
	s.HighPrice = 0
	s.LowPrice = 0
	s.TimestampTouch(f.TimestampMs)
	return realized
}

// TimestampTouch records the latest mutation time.
func (s *AccumulationStrategy) TimestampTouch(ms int64) {
	if ms > s.UpdatedAtMs {
		s.UpdatedAtMs = ms
	}
}

// RecomputeFromFills rebuilds every aggregate field strictly from the fill
// log. Used at rehydration so a crash between persist and confirmation can
// never leave counters that disagree with the audit trail.
func (s *AccumulationStrategy) RecomputeFromFills() {
	fills := s.Fills
	s.Fills = nil
	s.StepIndex = 0
	s.CommittedGross = 0
	s.FeesPaid = 0
	s.QuantityHeld = 0
	s.AvgEntryPrice = 0
	s.LastFillPrice = 0
	s.CycleCount = 0
	s.LifetimeRealizedProfit = 0

	for _, f := range fills {
		switch f.Side {
		case SideBuy:
			s.ApplyBuyFill(f)
		case SideSell:
			s.ApplyExitFill(f)
		}
	}
}
