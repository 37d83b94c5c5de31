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

// AccumulationEngine evaluates accumulation strategies: step buys on price
// drops, a full-exit profit target that opens a new cycle, and a full-exit
// stop loss that ends the instance.
type AccumulationEngine struct {
	gw      Executor
	prices  oracle.PriceOracle
	store   storage.StrategyStore
	fees    FeeCollector
	archive storage.FillArchive
	metrics *observability.Metrics
	cfg     Config

	now func() time.Time
}

// NewAccumulationEngine creates an accumulation evaluator. archive may be nil.
func NewAccumulationEngine(gw Executor, prices oracle.PriceOracle, store storage.StrategyStore,
	fees FeeCollector, archive storage.FillArchive, metrics *observability.Metrics, cfg Config) *AccumulationEngine {
	return &AccumulationEngine{
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

// Evaluate runs one evaluation tick for a strategy. At most one trade
// executes per call. A failed trade leaves the strategy's aggregates exactly
// as they were; only the error surface changes.
func (e *AccumulationEngine) Evaluate(ctx context.Context, ownerID, id string) error {
	s, err := e.store.Get(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("load strategy %s/%s: %w", ownerID, id, err)
	}
	if s.Status != domain.StatusActive {
		return nil
	}
	if s.PendingAction != "" {
		// A prior trade's confirmation is still outstanding; no new trade
		// may happen until its signature is resolved.
		return e.reconcile(ctx, s)
	}

	price, err := crossPrice(ctx, e.prices, s.Asset.Mint, e.cfg.QuoteMint)
	if err != nil {
		// No price, no decision. The next tick gets a fresh look.
		log.Printf("[engine] strategy %s: skipping tick: %v", s.ID, err)
		e.tick(s, "skipped_no_price")
		return nil
	}

	s.ObservePrice(price)
	nowMs := e.now().UnixMilli()
	graceOver := nowMs-s.CreatedAtMs >= e.cfg.GraceInterval.Milliseconds()

	if s.CycleOpen() && graceOver {
		net := s.NetCommitted()
		if net > 0 && s.QuantityHeld > 0 {
			value := s.QuantityHeld * price
			profitPct := (value - net) / net
			switch {
			case profitPct >= s.Params.ProfitTargetPct:
				return e.exit(ctx, s, price, nowMs, false)
			case -profitPct >= s.Params.StopLossPct:
				return e.exit(ctx, s, price, nowMs, true)
			}
		}
	}

	switch {
	case !s.CycleOpen():
		// Step 0: every cycle opens with an entry buy of the initial size.
		return e.buy(ctx, s, price, nowMs)
	case s.StepIndex < s.Params.MaxSteps && price <= s.LastFillPrice*(1-s.Params.TriggerDropPct):
		return e.buy(ctx, s, price, nowMs)
	}

	// No decision fired; persist the watermark movement.
	s.TimestampTouch(nowMs)
	if err := e.persist(ctx, s); err != nil {
		return err
	}
	e.tick(s, "idle")
	return nil
}

// buy executes the entry or next step buy.
func (e *AccumulationEngine) buy(ctx context.Context, s *domain.AccumulationStrategy, price float64, nowMs int64) error {
	size := s.NextStepSize()
	step := 0
	if s.CycleOpen() {
		step = s.StepIndex + 1
	}

	if s.WouldBreachCommitment(size) {
		log.Printf("[engine] strategy %s: step %d size %.6f would breach max commitment %.6f, holding",
			s.ID, step, size, s.Params.MaxCommitment)
		s.TimestampTouch(nowMs)
		if err := e.persist(ctx, s); err != nil {
			return err
		}
		e.tick(s, "commitment_capped")
		return nil
	}

	s.PendingAction = fmt.Sprintf("BUY_STEP_%d", step)
	s.TimestampTouch(nowMs)
	if err := e.persist(ctx, s); err != nil {
		return err
	}

	res, err := e.gw.Execute(ctx, gateway.Request{
		Direction:      domain.SideBuy,
		Asset:          s.Asset,
		Amount:         size,
		SlippageBps:    s.Params.SlippageBps,
		MaxSlippageBps: s.Params.MaxSlippageBps,
		OwnerID:        s.OwnerID,
	})
	timeout := confirmationTimeout(err)
	if err != nil && timeout == nil {
		s.PendingAction = ""
		return e.failTrade(ctx, s, "buy", err)
	}
	if timeout != nil {
		res = timeout.Provisional
	}

	fee := e.fees.ComputeFee(size)
	fill := domain.Fill{
		Side:            domain.SideBuy,
		TriggerPrice:    price,
		ExecutedPrice:   res.ExecutedPrice,
		RequestedSize:   size / price,
		ReceivedSize:    res.FilledAmount,
		SpentAmount:     size,
		TxSignature:     res.TxSignature,
		FeePaid:         fee,
		SlippageBpsUsed: res.SlippageBpsUsed,
		TimestampMs:     nowMs,
	}
	if timeout != nil {
		return e.holdForReconcile(ctx, s, "buy", fill, timeout)
	}
	s.PendingAction = ""
	s.ApplyBuyFill(fill)
	s.LastError = ""
	if err := e.persist(ctx, s); err != nil {
		return err
	}

	log.Printf("[engine] strategy %s: step %d buy of %.6f filled %.6f %s at %.8f (tx %s)",
		s.ID, step, size, res.FilledAmount, s.Asset.Symbol, res.ExecutedPrice, res.TxSignature)
	e.recordFill(ctx, s, &fill)
	e.tick(s, "buy")
	return nil
}

// exit executes the full-position sell for a profit target or stop loss.
func (e *AccumulationEngine) exit(ctx context.Context, s *domain.AccumulationStrategy, price float64, nowMs int64, stopLoss bool) error {
	action := "EXIT_PROFIT"
	if stopLoss {
		action = "EXIT_STOP_LOSS"
	}
	s.PendingAction = action
	s.TimestampTouch(nowMs)
	if err := e.persist(ctx, s); err != nil {
		return err
	}

	quantity := s.QuantityHeld
	res, err := e.gw.Execute(ctx, gateway.Request{
		Direction:      domain.SideSell,
		Asset:          s.Asset,
		Amount:         quantity,
		SlippageBps:    s.Params.SlippageBps,
		MaxSlippageBps: s.Params.MaxSlippageBps,
		OwnerID:        s.OwnerID,
	})
	timeout := confirmationTimeout(err)
	if err != nil && timeout == nil {
		s.PendingAction = ""
		return e.failTrade(ctx, s, "exit", err)
	}
	if timeout != nil {
		res = timeout.Provisional
	}

	fee := e.fees.ComputeFee(res.FilledAmount)
	fill := domain.Fill{
		Side:            domain.SideSell,
		TriggerPrice:    price,
		ExecutedPrice:   res.ExecutedPrice,
		RequestedSize:   quantity,
		ReceivedSize:    res.FilledAmount,
		TxSignature:     res.TxSignature,
		FeePaid:         fee,
		SlippageBpsUsed: res.SlippageBpsUsed,
		TimestampMs:     nowMs,
	}
	if timeout != nil {
		return e.holdForReconcile(ctx, s, "exit", fill, timeout)
	}
	s.PendingAction = ""
	realized := s.ApplyExitFill(fill)
	s.LastError = ""
	if stopLoss {
		s.Status = domain.StatusStopped
		s.StopReason = domain.StopReasonStopLoss
	}
	if err := e.persist(ctx, s); err != nil {
		return err
	}

	if stopLoss {
		log.Printf("[engine] strategy %s: stop loss exit realized %.6f, stopped (tx %s)",
			s.ID, realized, res.TxSignature)
	} else {
		log.Printf("[engine] strategy %s: profit exit realized %.6f, cycle %d opens next tick (tx %s)",
			s.ID, realized, s.CycleCount, res.TxSignature)
	}
	if e.metrics != nil {
		e.metrics.RealizedProfit.WithLabelValues("accumulation").Add(realized)
	}
	e.recordFill(ctx, s, &fill)
	e.tick(s, "exit")
	return nil
}

// holdForReconcile converts the pre-submission marker into a reconciliation
// marker for a trade whose confirmation outlived this evaluation. Aggregates
// stay untouched; the next tick resolves the signature before any new trade.
func (e *AccumulationEngine) holdForReconcile(ctx context.Context, s *domain.AccumulationStrategy, op string, fill domain.Fill, cause error) error {
	s.PendingAction = domain.EncodePendingTrade(s.PendingAction, fill)
	s.LastError = cause.Error()
	s.TimestampTouch(fill.TimestampMs)
	if err := e.persist(ctx, s); err != nil {
		return err
	}
	e.tick(s, "confirmation_outstanding")
	return fmt.Errorf("strategy %s %s: %w", s.ID, op, cause)
}

// reconcile resolves a trade whose confirmation outlived its evaluation. At
// most one status check per tick; a landed trade is applied from the recorded
// provisional fill, a dropped one discarded. No new trade fires this tick.
func (e *AccumulationEngine) reconcile(ctx context.Context, s *domain.AccumulationStrategy) error {
	pt, ok := domain.DecodePendingTrade(s.PendingAction)
	if !ok {
		// Pre-submission marker from a crash: no signature exists, so the
		// fill log is the only truth.
		s.RecomputeFromFills()
		s.PendingAction = ""
		return e.persist(ctx, s)
	}

	conf, err := e.gw.Confirm(ctx, pt.Fill.TxSignature)
	if err != nil {
		log.Printf("[engine] strategy %s: confirmation status for %s unavailable: %v",
			s.ID, pt.Fill.TxSignature, err)
		e.tick(s, "reconcile_unavailable")
		return nil
	}

	nowMs := e.now().UnixMilli()
	switch {
	case conf.Confirmed && conf.Succeeded:
		s.PendingAction = ""
		if pt.Fill.Side == domain.SideSell {
			realized := s.ApplyExitFill(pt.Fill)
			if pt.Action == "EXIT_STOP_LOSS" {
				s.Status = domain.StatusStopped
				s.StopReason = domain.StopReasonStopLoss
			}
			if e.metrics != nil {
				e.metrics.RealizedProfit.WithLabelValues("accumulation").Add(realized)
			}
		} else {
			s.ApplyBuyFill(pt.Fill)
		}
		s.LastError = ""
		s.TimestampTouch(nowMs)
		if err := e.persist(ctx, s); err != nil {
			return err
		}
		log.Printf("[engine] strategy %s: late confirmation for %s landed, %s applied",
			s.ID, pt.Fill.TxSignature, pt.Action)
		e.recordFill(ctx, s, &pt.Fill)
		e.tick(s, "reconciled_landed")
		return nil
	case conf.Confirmed:
		s.PendingAction = ""
		s.LastError = fmt.Sprintf("transaction %s failed on chain: %s", pt.Fill.TxSignature, conf.ErrText)
	default:
		if nowMs-pt.Fill.TimestampMs < reconcileDropAfter.Milliseconds() {
			// Still inside the window where the transaction could land.
			e.tick(s, "reconcile_outstanding")
			return nil
		}
		s.PendingAction = ""
		s.LastError = fmt.Sprintf("transaction %s dropped unconfirmed", pt.Fill.TxSignature)
	}

	log.Printf("[engine] strategy %s: %s", s.ID, s.LastError)
	s.TimestampTouch(nowMs)
	if err := e.persist(ctx, s); err != nil {
		return err
	}
	e.tick(s, "reconciled_dropped")
	return nil
}

// failTrade records a trade failure without touching aggregates.
func (e *AccumulationEngine) failTrade(ctx context.Context, s *domain.AccumulationStrategy, op string, cause error) error {
	s.LastError = cause.Error()
	s.TimestampTouch(e.now().UnixMilli())
	if err := e.persist(ctx, s); err != nil {
		return err
	}
	e.tick(s, "trade_failed")
	return fmt.Errorf("strategy %s %s: %w", s.ID, op, cause)
}

func (e *AccumulationEngine) persist(ctx context.Context, s *domain.AccumulationStrategy) error {
	if err := e.store.Upsert(ctx, s); err != nil {
		if e.metrics != nil {
			e.metrics.StoreErrors.WithLabelValues("strategy").Inc()
		}
		return fmt.Errorf("persist strategy %s/%s: %w", s.OwnerID, s.ID, err)
	}
	return nil
}

func (e *AccumulationEngine) recordFill(ctx context.Context, s *domain.AccumulationStrategy, f *domain.Fill) {
	if e.metrics != nil {
		e.metrics.FillsTotal.WithLabelValues("accumulation", f.Side).Inc()
	}
	collectFee(ctx, e.fees, s.OwnerID, f.TxSignature, f.FeePaid)
	archiveFill(ctx, e.archive, "accumulation", s.ID, s.OwnerID, f)
}

func (e *AccumulationEngine) tick(s *domain.AccumulationStrategy, result string) {
	if e.metrics != nil {
		e.metrics.EvaluationTicks.WithLabelValues("accumulation", result).Inc()
	}
}

// Rehydrate restores in-memory consistency for a strategy loaded at process
// start. A reconciliation marker (submitted trade, confirmation outstanding)
// is left for the first evaluation to resolve against the chain. A bare
// pre-submission marker means a crash mid-trade with no signature to check;
// aggregates are then rebuilt from the fill log, which only ever contains
// confirmed trades.
func (e *AccumulationEngine) Rehydrate(ctx context.Context, s *domain.AccumulationStrategy) error {
	if s.PendingAction == "" {
		return nil
	}
	if _, ok := domain.DecodePendingTrade(s.PendingAction); ok {
		// A submitted trade awaiting reconciliation; the first evaluation
		// resolves its signature.
		return nil
	}
	log.Printf("[engine] strategy %s: found pending action %q from interrupted run, rebuilding from fill log",
		s.ID, s.PendingAction)
	s.RecomputeFromFills()
	s.PendingAction = ""
	return e.persist(ctx, s)
}
