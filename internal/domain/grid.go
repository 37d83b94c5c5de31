package domain

import "math"

// MaxRungFills caps how many times a single rung may fill. Re-arming is
// useful on a ranging market but unbounded on a trending one; the cap bounds
// the loss a runaway trend can extract from a single price band.
const MaxRungFills = 2

// RegridExcursionPct is the |price-entry|/entry excursion beyond which a grid
// is flagged for re-gridding. Detection only: automatic re-gridding is an
// explicit unresolved gap, never attempted.
const RegridExcursionPct = 0.50

// Rung is one price level of a grid ladder. Size is in token units on both
// sides; a buy rung's quote spend is Size times the executed price.
type Rung struct {
	Price     float64
	Size      float64
	Filled    bool // true while the rung waits to be re-armed
	FillCount int  // never exceeds MaxRungFills
}

// Armed reports whether the rung can still trigger.
func (r *Rung) Armed() bool {
	return !r.Filled && r.FillCount < MaxRungFills
}

// Exhausted reports whether the rung is permanently spent.
func (r *Rung) Exhausted() bool {
	return r.FillCount >= MaxRungFills
}

// GridParams are the owner-supplied parameters of a grid instance.
type GridParams struct {
	TotalCommitment float64 // quote units the grid may deploy in total
	BuyRungCount    int
	SellRungCount   int
	DropPct         float64 // spacing below entry per buy rung (0.02 = 2%)
	LeapPct         float64 // spacing above entry per sell rung
	SlippageBps     int
	MaxSlippageBps  int
}

// Grid is the durable record of one grid instance.
type Grid struct {
	ID      string
	OwnerID string
	Asset   Asset
	Params  GridParams

	Status     InstanceStatus
	StopReason string

	EntryPrice     float64
	QuantityHeld   float64
	BuyRungs       []Rung
	SellRungs      []Rung
	CommittedTotal float64 // cumulative quote units spent on buys
	TotalReturned  float64 // cumulative quote units received from sells
	RealizedProfit float64 // sum over sell fills of proceeds minus cost basis
	NeedsRegrid    bool

	Fills []Fill

	// PendingAction mirrors AccumulationStrategy.PendingAction: written
	// before a rung trade is handed to the gateway, cleared after.
	PendingAction string

	LastError   string
	CreatedAtMs int64
	UpdatedAtMs int64
}

// BuildLadders computes the buy and sell rungs around the entry price.
// seededQuantity is the token quantity acquired by the launch seed buy; sell
// rungs split it evenly. The un-seeded half of the commitment splits evenly
// across buy rungs, sized in tokens at each rung's own price.
func (g *Grid) BuildLadders(entryPrice, seededQuantity float64) {
	g.EntryPrice = entryPrice
	g.BuyRungs = make([]Rung, 0, g.Params.BuyRungCount)
	g.SellRungs = make([]Rung, 0, g.Params.SellRungCount)

	buyBudget := g.Params.TotalCommitment / 2
	perRungSpend := buyBudget / float64(g.Params.BuyRungCount)
	for i := 1; i <= g.Params.BuyRungCount; i++ {
		price := entryPrice * (1 - float64(i)*g.Params.DropPct)
		g.BuyRungs = append(g.BuyRungs, Rung{
			Price: price,
			Size:  perRungSpend / price,
		})
	}

	perRungSell := seededQuantity / float64(g.Params.SellRungCount)
	for j := 1; j <= g.Params.SellRungCount; j++ {
		g.SellRungs = append(g.SellRungs, Rung{
			Price: entryPrice * (1 + float64(j)*g.Params.LeapPct),
			Size:  perRungSell,
		})
	}
}

// AvgCostPerUnit is the running average cost of the held quantity.
func (g *Grid) AvgCostPerUnit() float64 {
	if g.QuantityHeld <= 0 {
		return 0
	}
	return g.CommittedTotal / g.QuantityHeld
}

// ApplyBuyFill records a confirmed buy-rung fill and re-arms the nearest
// un-exhausted sell rung above the executed price.
func (g *Grid) ApplyBuyFill(rung *Rung, f Fill) {
	rung.Filled = true
	rung.FillCount++
	g.Fills = append(g.Fills, f)
	g.CommittedTotal += f.SpentAmount
	g.QuantityHeld += f.ReceivedSize
	g.rearmSellAbove(f.ExecutedPrice)
	g.TimestampTouch(f.TimestampMs)
}

// ApplySellFill records a confirmed sell-rung fill, realizes profit against
// the running average cost, and re-arms the nearest un-exhausted buy rung
// below the executed price. Returns the realized profit of this fill.
func (g *Grid) ApplySellFill(rung *Rung, f Fill) float64 {
	costBasis := g.AvgCostPerUnit() * f.RequestedSize

	rung.Filled = true
	rung.FillCount++
	g.Fills = append(g.Fills, f)

	proceeds := f.ReceivedSize - f.FeePaid
	realized := proceeds - costBasis
	g.RealizedProfit += realized
	g.TotalReturned += f.ReceivedSize
	g.CommittedTotal -= costBasis
	if g.CommittedTotal < 0 {
		g.CommittedTotal = 0
	}
	g.QuantityHeld -= f.RequestedSize
	if g.QuantityHeld < 0 {
		g.QuantityHeld = 0
	}
	g.rearmBuyBelow(f.ExecutedPrice)
	g.TimestampTouch(f.TimestampMs)
	return realized
}

// rearmSellAbove clears the filled flag on the nearest sell rung above price
// that has fills left.
func (g *Grid) rearmSellAbove(price float64) {
	best := -1
	for i := range g.SellRungs {
		r := &g.SellRungs[i]
		if r.Price <= price || !r.Filled || r.Exhausted() {
			continue
		}
		if best == -1 || r.Price < g.SellRungs[best].Price {
			best = i
		}
	}
	if best >= 0 {
		g.SellRungs[best].Filled = false
	}
}

// rearmBuyBelow clears the filled flag on the nearest buy rung below price
// that has fills left.
func (g *Grid) rearmBuyBelow(price float64) {
	best := -1
	for i := range g.BuyRungs {
		r := &g.BuyRungs[i]
		if r.Price >= price || !r.Filled || r.Exhausted() {
			continue
		}
		if best == -1 || r.Price > g.BuyRungs[best].Price {
			best = i
		}
	}
	if best >= 0 {
		g.BuyRungs[best].Filled = false
	}
}

// CheckExcursion flags the grid for re-gridding when price has left the
// laddered band entirely. Returns true on the transition.
func (g *Grid) CheckExcursion(price float64) bool {
	if g.EntryPrice <= 0 || g.NeedsRegrid {
		return false
	}
	if math.Abs(price-g.EntryPrice)/g.EntryPrice > RegridExcursionPct {
		g.NeedsRegrid = true
		return true
	}
	return false
}

// TimestampTouch records the latest mutation time.
func (g *Grid) TimestampTouch(ms int64) {
	if ms > g.UpdatedAtMs {
		g.UpdatedAtMs = ms
	}
}

// ApplySeedFill records the launch seed buy. The seed is a plain position
// open, not a rung fill, so no rung state changes.
func (g *Grid) ApplySeedFill(f Fill) {
	g.Fills = append(g.Fills, f)
	g.CommittedTotal += f.SpentAmount
	g.QuantityHeld += f.ReceivedSize
	g.TimestampTouch(f.TimestampMs)
}

// NextCrossedRung returns the armed rung nearest to price that price has
// crossed, and its side. A buy rung is crossed when price has fallen to or
// below it; a sell rung when price has risen to or above it. Returns nil when
// nothing is crossed.
func (g *Grid) NextCrossedRung(price float64) (*Rung, string) {
	var best *Rung
	side := ""
	for i := range g.BuyRungs {
		r := &g.BuyRungs[i]
		if !r.Armed() || price > r.Price {
			continue
		}
		if best == nil || r.Price < best.Price {
			best = r
			side = SideBuy
		}
	}
	bestGap := math.Inf(1)
	if best != nil {
		bestGap = best.Price - price
	}
	for i := range g.SellRungs {
		r := &g.SellRungs[i]
		if !r.Armed() || price < r.Price {
			continue
		}
		if gap := price - r.Price; gap < bestGap {
			best = r
			bestGap = gap
			side = SideSell
		}
	}
	return best, side
}

// findRung locates the ladder rung whose trigger price matches the fill.
func (g *Grid) findRung(side string, triggerPrice float64) *Rung {
	rungs := g.BuyRungs
	if side == SideSell {
		rungs = g.SellRungs
	}
	for i := range rungs {
		if math.Abs(rungs[i].Price-triggerPrice) < 1e-9*math.Max(1, triggerPrice) {
			return &rungs[i]
		}
	}
	return nil
}

// ApplyReconciledFill applies a fill whose confirmation arrived after its
// evaluation ended. The rung is located by the fill's trigger price, exactly
// as RecomputeFromFills does; a buy with no matching rung is the launch seed.
// Returns the realized profit (zero for buys).
func (g *Grid) ApplyReconciledFill(f Fill) float64 {
	rung := g.findRung(f.Side, f.TriggerPrice)
	switch {
	case f.Side == SideBuy && rung == nil:
		g.ApplySeedFill(f)
	case f.Side == SideBuy:
		g.ApplyBuyFill(rung, f)
	case rung != nil:
		return g.ApplySellFill(rung, f)
	}
	return 0
}

// RecomputeFromFills rebuilds aggregates and rung fill state strictly from
// the fill log, mirroring AccumulationStrategy.RecomputeFromFills.
func (g *Grid) RecomputeFromFills() {
	fills := g.Fills
	g.Fills = nil
	g.CommittedTotal = 0
	g.TotalReturned = 0
	g.RealizedProfit = 0
	g.QuantityHeld = 0
	for i := range g.BuyRungs {
		g.BuyRungs[i].Filled = false
		g.BuyRungs[i].FillCount = 0
	}
	for i := range g.SellRungs {
		g.SellRungs[i].Filled = false
		g.SellRungs[i].FillCount = 0
	}

	for _, f := range fills {
		rung := g.findRung(f.Side, f.TriggerPrice)
		switch {
		case f.Side == SideBuy && rung == nil:
			g.ApplySeedFill(f)
		case f.Side == SideBuy:
			g.ApplyBuyFill(rung, f)
		case rung != nil:
			g.ApplySellFill(rung, f)
		}
	}
}
