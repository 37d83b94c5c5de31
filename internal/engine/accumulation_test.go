package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/execerr"
	"solana-strategy-engine/internal/ledger"
	"solana-strategy-engine/internal/storage/memory"
)

const (
	testMint      = "TokenMint111111111111111111111111111111111111"
	testQuoteMint = "So11111111111111111111111111111111111111112"
)

type accumFixture struct {
	engine *AccumulationEngine
	store  *memory.StrategyStore
	oracle *fakeOracle
	gw     *fakeExecutor
	fees   *fakeFees
}

func newAccumFixture(t *testing.T, grace time.Duration) *accumFixture {
	t.Helper()

	o := newFakeOracle()
	o.set(testQuoteMint, 1.0) // quote at parity; USD prices read as quote units
	gw := &fakeExecutor{oracle: o, quoteMint: testQuoteMint}
	store := memory.NewStrategyStore()
	fees := &fakeFees{}

	cfg := Config{QuoteMint: testQuoteMint, GraceInterval: grace}
	return &accumFixture{
		engine: NewAccumulationEngine(gw, o, store, fees, nil, nil, cfg),
		store:  store,
		oracle: o,
		gw:     gw,
		fees:   fees,
	}
}

func newTestAccum() *domain.AccumulationStrategy {
	return &domain.AccumulationStrategy{
		ID:      "strat-1",
		OwnerID: "owner-1",
		Asset:   domain.Asset{Mint: testMint, Symbol: "TKN", Decimals: 6},
		Params: domain.AccumulationParams{
			InitialStepSize: 0.01,
			TriggerDropPct:  0.05,
			StepMultiplier:  2.0,
			MaxSteps:        3,
			ProfitTargetPct: 0.10,
			StopLossPct:     0.30,
			SlippageBps:     100,
			MaxSlippageBps:  300,
			MaxCommitment:   1.0,
		},
		Status: domain.StatusActive,
	}
}

func TestAccumulation_EntryThenStepBuyThenHold(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, newTestAccum()))

	// First evaluation opens the cycle with the entry buy at 100.
	fx.oracle.set(testMint, 100)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	s, err := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Equal(t, 0, s.StepIndex)
	assert.InDelta(t, 0.01, s.CommittedGross, 1e-12)
	assert.InDelta(t, 100.0, s.LastFillPrice, 1e-9)
	require.Len(t, fx.gw.requests, 1)
	assert.Equal(t, domain.SideBuy, fx.gw.requests[0].Direction)
	assert.InDelta(t, 0.01, fx.gw.requests[0].Amount, 1e-12)

	// A 6% drop crosses the 5% trigger: second buy doubles to 0.02.
	fx.oracle.set(testMint, 94)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	s, err = fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.StepIndex)
	require.Len(t, fx.gw.requests, 2)
	assert.InDelta(t, 0.02, fx.gw.requests[1].Amount, 1e-12)
	assert.InDelta(t, 0.03, s.CommittedGross, 1e-12)

	// A bounce to 100.5 is nowhere near the 10% profit target and above
	// the next drop trigger: no trade fires.
	fx.oracle.set(testMint, 100.5)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))
	assert.Len(t, fx.gw.requests, 2)

	s, err = fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Len(t, s.Fills, 2)
}

func TestAccumulation_ProfitExitResetsCycleAndReenters(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, newTestAccum()))

	fx.oracle.set(testMint, 100)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	// +12% beats the 10% target even after the 1% fee drag.
	fx.oracle.set(testMint, 112)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	s, err := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Equal(t, 1, s.CycleCount)
	assert.False(t, s.CycleOpen())
	assert.Zero(t, s.QuantityHeld)
	assert.Greater(t, s.LifetimeRealizedProfit, 0.0)
	require.Len(t, fx.gw.requests, 2)
	assert.Equal(t, domain.SideSell, fx.gw.requests[1].Direction)

	// The next tick opens cycle 2 with a fresh entry.
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))
	s, err = fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.True(t, s.CycleOpen())
	assert.Equal(t, 0, s.StepIndex)
	require.Len(t, fx.gw.requests, 3)
	assert.Equal(t, domain.SideBuy, fx.gw.requests[2].Direction)
}

func TestAccumulation_StopLossStopsInstance(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, newTestAccum()))

	fx.oracle.set(testMint, 100)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	// -40% is past the 30% loss limit.
	fx.oracle.set(testMint, 60)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	s, err := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, s.Status)
	assert.Equal(t, domain.StopReasonStopLoss, s.StopReason)
	assert.Less(t, s.LifetimeRealizedProfit, 0.0)

	// A stopped instance never trades again.
	before := len(fx.gw.requests)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))
	assert.Len(t, fx.gw.requests, before)
}

func TestAccumulation_GraceIntervalSuppressesExitChecks(t *testing.T) {
	fx := newAccumFixture(t, 90*time.Second)
	ctx := context.Background()

	s := newTestAccum()
	s.CreatedAtMs = time.Now().UnixMilli()
	require.NoError(t, fx.store.Upsert(ctx, s))

	fx.oracle.set(testMint, 100)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	// A crash right after launch must not fire the stop loss inside the
	// grace window. The drop trigger still arms a step buy.
	fx.oracle.set(testMint, 60)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	got, err := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	require.Len(t, fx.gw.requests, 2)
	assert.Equal(t, domain.SideBuy, fx.gw.requests[1].Direction)
}

func TestAccumulation_CommitmentCapHoldsStep(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()

	s := newTestAccum()
	s.Params.MaxCommitment = 0.02 // entry fits, the doubled step does not
	require.NoError(t, fx.store.Upsert(ctx, s))

	fx.oracle.set(testMint, 100)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	fx.oracle.set(testMint, 94)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	got, err := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.StepIndex)
	assert.InDelta(t, 0.01, got.CommittedGross, 1e-12)
	assert.Len(t, fx.gw.requests, 1)
}

func TestAccumulation_TradeFailureLeavesAggregatesUntouched(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, newTestAccum()))

	fx.oracle.set(testMint, 100)
	fx.gw.err = execerr.NonRetryable("swap", execerr.ReasonInsufficientFunds)

	err := fx.engine.Evaluate(ctx, "owner-1", "strat-1")
	require.Error(t, err)

	s, getErr := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, getErr)
	assert.Zero(t, s.CommittedGross)
	assert.Zero(t, s.QuantityHeld)
	assert.Empty(t, s.Fills)
	assert.Empty(t, s.PendingAction)
	assert.NotEmpty(t, s.LastError)
	assert.Equal(t, domain.StatusActive, s.Status)
}

func TestAccumulation_MissingPriceSkipsTick(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, newTestAccum()))

	// No token price published at all.
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))
	assert.Empty(t, fx.gw.requests)
}

func TestAccumulation_FeeCollectedAfterFill(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, newTestAccum()))

	fx.oracle.set(testMint, 100)
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	require.Len(t, fx.fees.collected, 1)
	assert.Equal(t, "sig-1", fx.fees.collected[0])

	s, err := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.0001, s.FeesPaid, 1e-12)
}

func TestAccumulation_RehydrateClearsInterruptedTrade(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()

	s := newTestAccum()
	s.PendingAction = "BUY_STEP_1"
	s.Fills = []domain.Fill{{
		Side:          domain.SideBuy,
		ExecutedPrice: 100,
		ReceivedSize:  0.0001,
		SpentAmount:   0.01,
		FeePaid:       0.0001,
		TxSignature:   "sig-0",
	}}
	// Aggregates deliberately out of line with the fill log, as a crash
	// between submit and confirm could leave them.
	s.CommittedGross = 0.05
	s.StepIndex = 3
	require.NoError(t, fx.store.Upsert(ctx, s))

	require.NoError(t, fx.engine.Rehydrate(ctx, s))

	got, err := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Empty(t, got.PendingAction)
	assert.InDelta(t, 0.01, got.CommittedGross, 1e-12)
	assert.Equal(t, 0, got.StepIndex)
	require.Len(t, got.Fills, 1)
}

func TestAccumulation_ConfirmationTimeoutHoldsTradeUntilReconciled(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, newTestAccum()))

	// The entry buy is submitted but its confirmation outlives the tick.
	fx.oracle.set(testMint, 100)
	fx.gw.timeoutNext = true
	require.Error(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	s, err := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	pt, ok := domain.DecodePendingTrade(s.PendingAction)
	require.True(t, ok, "marker must carry the outstanding signature")
	assert.Equal(t, "sig-1", pt.Fill.TxSignature)
	assert.Zero(t, s.CommittedGross, "nothing applied before the chain confirms")
	assert.Empty(t, s.Fills)

	// Still unconfirmed: the tick checks the signature and trades nothing.
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))
	assert.Len(t, fx.gw.requests, 1, "outstanding confirmation must not be re-traded")
	assert.Equal(t, []string{"sig-1"}, fx.gw.confirmCalls)

	// The transaction lands late: the recorded fill is applied as-is.
	fx.gw.confirmation = ledger.Confirmation{Confirmed: true, Succeeded: true}
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	s, err = fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Empty(t, s.PendingAction)
	assert.Empty(t, s.LastError)
	assert.InDelta(t, 0.01, s.CommittedGross, 1e-12)
	require.Len(t, s.Fills, 1)
	assert.Equal(t, "sig-1", s.Fills[0].TxSignature)
	assert.Len(t, fx.gw.requests, 1, "reconciliation applies the held fill, never a new trade")
}

func TestAccumulation_ReconcileDiscardsFailedTransaction(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, newTestAccum()))

	fx.oracle.set(testMint, 100)
	fx.gw.timeoutNext = true
	require.Error(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	fx.gw.confirmation = ledger.Confirmation{Confirmed: true, Succeeded: false, ErrText: "slippage exceeded"}
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	s, err := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Empty(t, s.PendingAction)
	assert.Contains(t, s.LastError, "failed on chain")
	assert.Empty(t, s.Fills)
	assert.Zero(t, s.CommittedGross)

	// With the failure resolved the next tick opens the cycle normally.
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))
	assert.Len(t, fx.gw.requests, 2)
}

func TestAccumulation_ReconcileDropsUnconfirmedAfterWindow(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, newTestAccum()))

	fx.oracle.set(testMint, 100)
	fx.gw.timeoutNext = true
	require.Error(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	// Well past the window in which the transaction could still land.
	fx.engine.now = func() time.Time { return time.Now().Add(reconcileDropAfter + time.Minute) }
	require.NoError(t, fx.engine.Evaluate(ctx, "owner-1", "strat-1"))

	s, err := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Empty(t, s.PendingAction)
	assert.Contains(t, s.LastError, "dropped unconfirmed")
	assert.Empty(t, s.Fills)
	assert.Zero(t, s.CommittedGross)
}

func TestAccumulation_RehydrateLeavesReconciliationMarker(t *testing.T) {
	fx := newAccumFixture(t, 0)
	ctx := context.Background()

	s := newTestAccum()
	s.PendingAction = domain.EncodePendingTrade("BUY_ENTRY", domain.Fill{
		Side: domain.SideBuy, TxSignature: "sig-7", SpentAmount: 0.01, TimestampMs: 1,
	})
	require.NoError(t, fx.store.Upsert(ctx, s))

	// A marker with a signature is the first evaluation's job, not restart's.
	require.NoError(t, fx.engine.Rehydrate(ctx, s))
	got, err := fx.store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	pt, ok := domain.DecodePendingTrade(got.PendingAction)
	require.True(t, ok)
	assert.Equal(t, "sig-7", pt.Fill.TxSignature)
}
