package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/gateway"
	"solana-strategy-engine/internal/observability"
	"solana-strategy-engine/internal/oracle"
	"solana-strategy-engine/internal/storage"
)

// GridEngine evaluates grid instances: a ladder of buy rungs below entry and
// sell rungs above, each rung re-armed by a fill on the opposite side until
// its fill counter is exhausted.
type GridEngine struct {
	gw      Executor
	prices  oracle.PriceOracle
	store   storage.GridStore
	fees    FeeCollector
	archive storage.FillArchive
	metrics *observability.Metrics
	cfg     Config

	now func() time.Time
}

// NewGridEngine creates a grid evaluator. archive may be nil.
func NewGridEngine(gw Executor, prices oracle.PriceOracle, store storage.GridStore,
	fees FeeCollector, archive storage.FillArchive, metrics *observability.Metrics, cfg Config) *GridEngine {
	return &GridEngine{
		gw:      gw,
		prices:  prices,
		store:   store,
		fees:    fees,
		archive: archive,
		metrics: metrics,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Launch seeds a freshly created grid: half of the commitment is bought at
// market so sell rungs have inventory to work with, then both ladders are
// built around the seed's executed price.
func (e *GridEngine) Launch(ctx context.Context, ownerID, id string) error {
	g, err := e.store.Get(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("load grid %s/%s: %w", ownerID, id, err)
	}
	if g.Status != domain.StatusActive {
		return nil
	}
	if g.PendingAction != "" {
		// An earlier seed was submitted and is still awaiting confirmation.
		return e.reconcile(ctx, g)
	}
	if g.EntryPrice > 0 {
		return nil // already seeded
	}

	nowMs := e.now().UnixMilli()
	seedSpend := g.Params.TotalCommitment / 2

	g.PendingAction = "SEED_BUY"
	g.TimestampTouch(nowMs)
	if err := e.persist(ctx, g); err != nil {
		return err
	}

	res, err := e.gw.Execute(ctx, gateway.Request{
		Direction:      domain.SideBuy,
		Asset:          g.Asset,
		Amount:         seedSpend,
		SlippageBps:    g.Params.SlippageBps,
		MaxSlippageBps: g.Params.MaxSlippageBps,
		OwnerID:        g.OwnerID,
	})
	timeout := confirmationTimeout(err)
	if err != nil && timeout == nil {
		g.PendingAction = ""
		return e.failTrade(ctx, g, "seed", err)
	}
	if timeout != nil {
		res = timeout.Provisional
	}

	fee := e.fees.ComputeFee(seedSpend)
	fill := domain.Fill{
		Side:            domain.SideBuy,
		TriggerPrice:    res.ExecutedPrice,
		ExecutedPrice:   res.ExecutedPrice,
		RequestedSize:   seedSpend / res.ExecutedPrice,
		ReceivedSize:    res.FilledAmount,
		SpentAmount:     seedSpend,
		TxSignature:     res.TxSignature,
		FeePaid:         fee,
		SlippageBpsUsed: res.SlippageBpsUsed,
		TimestampMs:     nowMs,
	}
	if timeout != nil {
		return e.holdForReconcile(ctx, g, "seed", fill, timeout)
	}
	g.PendingAction = ""
	g.ApplySeedFill(fill)
	g.BuildLadders(res.ExecutedPrice, res.FilledAmount)
	g.LastError = ""
	if err := e.persist(ctx, g); err != nil {
		return err
	}

	log.Printf("[engine] grid %s: seeded %.6f %s at %.8f, %d buy / %d sell rungs (tx %s)",
		g.ID, res.FilledAmount, g.Asset.Symbol, res.ExecutedPrice,
		len(g.BuyRungs), len(g.SellRungs), res.TxSignature)
	e.recordFill(ctx, g, &fill)
	return nil
}

// Evaluate runs one evaluation tick for a grid. Every armed rung the price
// has crossed executes, nearest rungs first; a trade failure stops the pass
// and leaves the remaining rungs for the next tick.
func (e *GridEngine) Evaluate(ctx context.Context, ownerID, id string) error {
	g, err := e.store.Get(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("load grid %s/%s: %w", ownerID, id, err)
	}
	if g.Status != domain.StatusActive {
		return nil
	}
	if g.PendingAction != "" {
		// A prior trade's confirmation is still outstanding; resolve its
		// signature before any rung may fire.
		return e.reconcile(ctx, g)
	}
	if g.EntryPrice <= 0 {
		// Crash between create and seed; finish the launch first.
		return e.Launch(ctx, ownerID, id)
	}

	price, err := crossPrice(ctx, e.prices, g.Asset.Mint, e.cfg.QuoteMint)
	if err != nil {
		log.Printf("[engine] grid %s: skipping tick: %v", g.ID, err)
		e.tick("skipped_no_price")
		return nil
	}

	nowMs := e.now().UnixMilli()
	if g.CheckExcursion(price) {
		log.Printf("[engine] grid %s: price %.8f left the ladder band around %.8f, flagged for re-gridding",
			g.ID, price, g.EntryPrice)
	}

	fired := 0
	for {
		rung, side := g.NextCrossedRung(price)
		if rung == nil {
			break
		}
		if err := e.fillRung(ctx, g, rung, side, price, nowMs); err != nil {
			return err
		}
		fired++
	}

	g.TimestampTouch(nowMs)
	if err := e.persist(ctx, g); err != nil {
		return err
	}
	if fired == 0 {
		e.tick("idle")
	}
	return nil
}

// fillRung executes one crossed rung and applies the confirmed fill.
func (e *GridEngine) fillRung(ctx context.Context, g *domain.Grid, rung *domain.Rung, side string, price float64, nowMs int64) error {
	var amount float64
	if side == domain.SideBuy {
		amount = rung.Size * price // quote units to spend
		if g.CommittedTotal+amount > g.Params.TotalCommitment {
			log.Printf("[engine] grid %s: buy rung %.8f would exceed commitment, holding", g.ID, rung.Price)
			rung.Filled = true // parked until a sell re-arms it
			return nil
		}
	} else {
		amount = rung.Size
		if amount > g.QuantityHeld {
			amount = g.QuantityHeld
		}
		if amount <= 0 {
			rung.Filled = true
			return nil
		}
	}

	g.PendingAction = fmt.Sprintf("RUNG_%s_%.8f", side, rung.Price)
	g.TimestampTouch(nowMs)
	if err := e.persist(ctx, g); err != nil {
		return err
	}

	res, err := e.gw.Execute(ctx, gateway.Request{
		Direction:      side,
		Asset:          g.Asset,
		Amount:         amount,
		SlippageBps:    g.Params.SlippageBps,
		MaxSlippageBps: g.Params.MaxSlippageBps,
		OwnerID:        g.OwnerID,
	})
	timeout := confirmationTimeout(err)
	if err != nil && timeout == nil {
		g.PendingAction = ""
		return e.failTrade(ctx, g, fmt.Sprintf("rung %s %.8f", side, rung.Price), err)
	}
	if timeout != nil {
		res = timeout.Provisional
	}

	var fill domain.Fill
	if side == domain.SideBuy {
		fee := e.fees.ComputeFee(amount)
		fill = domain.Fill{
			Side:            domain.SideBuy,
			TriggerPrice:    rung.Price,
			ExecutedPrice:   res.ExecutedPrice,
			RequestedSize:   rung.Size,
			ReceivedSize:    res.FilledAmount,
			SpentAmount:     amount,
			TxSignature:     res.TxSignature,
			FeePaid:         fee,
			SlippageBpsUsed: res.SlippageBpsUsed,
			TimestampMs:     nowMs,
		}
	} else {
		fee := e.fees.ComputeFee(res.FilledAmount)
		fill = domain.Fill{
			Side:            domain.SideSell,
			TriggerPrice:    rung.Price,
			ExecutedPrice:   res.ExecutedPrice,
			RequestedSize:   amount,
			ReceivedSize:    res.FilledAmount,
			TxSignature:     res.TxSignature,
			FeePaid:         fee,
			SlippageBpsUsed: res.SlippageBpsUsed,
			TimestampMs:     nowMs,
		}
	}
	if timeout != nil {
		return e.holdForReconcile(ctx, g, fmt.Sprintf("rung %s %.8f", side, rung.Price), fill, timeout)
	}
	g.PendingAction = ""

	if side == domain.SideBuy {
		g.ApplyBuyFill(rung, fill)
		log.Printf("[engine] grid %s: buy rung %.8f filled %.6f %s (tx %s)",
			g.ID, rung.Price, res.FilledAmount, g.Asset.Symbol, res.TxSignature)
	} else {
		realized := g.ApplySellFill(rung, fill)
		if e.metrics != nil {
			e.metrics.RealizedProfit.WithLabelValues("grid").Add(realized)
		}
		log.Printf("[engine] grid %s: sell rung %.8f realized %.6f, cumulative %.6f (tx %s)",
			g.ID, rung.Price, realized, g.RealizedProfit, res.TxSignature)
	}

	g.LastError = ""
	if err := e.persist(ctx, g); err != nil {
		return err
	}
	e.recordFill(ctx, g, &fill)
	e.tick("fill")
	return nil
}

// holdForReconcile converts the pre-submission marker into a reconciliation
// marker carrying the signature and the provisional fill, so the next tick
// resolves the trade instead of re-submitting it.
func (e *GridEngine) holdForReconcile(ctx context.Context, g *domain.Grid, op string, fill domain.Fill, cause error) error {
	g.PendingAction = domain.EncodePendingTrade(g.PendingAction, fill)
	g.LastError = cause.Error()
	g.TimestampTouch(fill.TimestampMs)
	if err := e.persist(ctx, g); err != nil {
		return err
	}
	e.tick("confirmation_outstanding")
	return fmt.Errorf("grid %s %s: %w", g.ID, op, cause)
}

// reconcile resolves a trade whose confirmation outlived its evaluation. At
// most one status check per tick; a landed trade is applied from the recorded
// provisional fill, a dropped one discarded. No rung fires this tick.
func (e *GridEngine) reconcile(ctx context.Context, g *domain.Grid) error {
	pt, ok := domain.DecodePendingTrade(g.PendingAction)
	if !ok {
		// Pre-submission marker from a crash: no signature exists, so the
		// fill log is the only truth.
		g.RecomputeFromFills()
		g.PendingAction = ""
		return e.persist(ctx, g)
	}

	conf, err := e.gw.Confirm(ctx, pt.Fill.TxSignature)
	if err != nil {
		log.Printf("[engine] grid %s: confirmation status for %s unavailable: %v",
			g.ID, pt.Fill.TxSignature, err)
		e.tick("reconcile_unavailable")
		return nil
	}

	nowMs := e.now().UnixMilli()
	switch {
	case conf.Confirmed && conf.Succeeded:
		g.PendingAction = ""
		if pt.Action == "SEED_BUY" && g.EntryPrice <= 0 {
			g.ApplySeedFill(pt.Fill)
			g.BuildLadders(pt.Fill.ExecutedPrice, pt.Fill.ReceivedSize)
		} else {
			realized := g.ApplyReconciledFill(pt.Fill)
			if realized != 0 && e.metrics != nil {
				e.metrics.RealizedProfit.WithLabelValues("grid").Add(realized)
			}
		}
		g.LastError = ""
		g.TimestampTouch(nowMs)
		if err := e.persist(ctx, g); err != nil {
			return err
		}
		log.Printf("[engine] grid %s: late confirmation for %s landed, %s applied",
			g.ID, pt.Fill.TxSignature, pt.Action)
		e.recordFill(ctx, g, &pt.Fill)
		e.tick("reconciled_landed")
		return nil
	case conf.Confirmed:
		g.PendingAction = ""
		g.LastError = fmt.Sprintf("transaction %s failed on chain: %s", pt.Fill.TxSignature, conf.ErrText)
	default:
		if nowMs-pt.Fill.TimestampMs < reconcileDropAfter.Milliseconds() {
			// Still inside the window where the transaction could land.
			e.tick("reconcile_outstanding")
			return nil
		}
		g.PendingAction = ""
		g.LastError = fmt.Sprintf("transaction %s dropped unconfirmed", pt.Fill.TxSignature)
	}

	log.Printf("[engine] grid %s: %s", g.ID, g.LastError)
	g.TimestampTouch(nowMs)
	if err := e.persist(ctx, g); err != nil {
		return err
	}
	e.tick("reconciled_dropped")
	return nil
}

func (e *GridEngine) failTrade(ctx context.Context, g *domain.Grid, op string, cause error) error {
	g.LastError = cause.Error()
	g.TimestampTouch(e.now().UnixMilli())
	if err := e.persist(ctx, g); err != nil {
		return err
	}
	e.tick("trade_failed")
	return fmt.Errorf("grid %s %s: %w", g.ID, op, cause)
}

func (e *GridEngine) persist(ctx context.Context, g *domain.Grid) error {
	if err := e.store.Upsert(ctx, g); err != nil {
		if e.metrics != nil {
			e.metrics.StoreErrors.WithLabelValues("grid").Inc()
		}
		return fmt.Errorf("persist grid %s/%s: %w", g.OwnerID, g.ID, err)
	}
	return nil
}

func (e *GridEngine) recordFill(ctx context.Context, g *domain.Grid, f *domain.Fill) {
	if e.metrics != nil {
		e.metrics.FillsTotal.WithLabelValues("grid", f.Side).Inc()
	}
	collectFee(ctx, e.fees, g.OwnerID, f.TxSignature, f.FeePaid)
	archiveFill(ctx, e.archive, "grid", g.ID, g.OwnerID, f)
}

func (e *GridEngine) tick(result string) {
	if e.metrics != nil {
		e.metrics.EvaluationTicks.WithLabelValues("grid", result).Inc()
	}
}

// Rehydrate mirrors AccumulationEngine.Rehydrate for grids.
func (e *GridEngine) Rehydrate(ctx context.Context, g *domain.Grid) error {
	if g.PendingAction == "" {
		return nil
	}
	if _, ok := domain.DecodePendingTrade(g.PendingAction); ok {
		// A submitted trade awaiting reconciliation; the first evaluation
		// resolves its signature.
		return nil
	}
	log.Printf("[engine] grid %s: found pending action %q from interrupted run, rebuilding from fill log",
		g.ID, g.PendingAction)
	g.RecomputeFromFills()
	g.PendingAction = ""
	return e.persist(ctx, g)
}
