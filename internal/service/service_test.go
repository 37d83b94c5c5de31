package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/engine"
	"solana-strategy-engine/internal/gateway"
	"solana-strategy-engine/internal/ledger"
	"solana-strategy-engine/internal/oracle"
	"solana-strategy-engine/internal/scheduler"
	"solana-strategy-engine/internal/storage"
	"solana-strategy-engine/internal/storage/memory"
	"solana-strategy-engine/internal/swaprouter"
)

const (
	testMint      = "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"
	testQuoteMint = "So11111111111111111111111111111111111111112"
)

type fakeMetadata struct{}

func (fakeMetadata) TokenMetadata(_ context.Context, mint string) (*swaprouter.TokenInfo, error) {
	return &swaprouter.TokenInfo{Mint: mint, Symbol: "TKN", Decimals: 6}, nil
}

type fakeOracle struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (o *fakeOracle) set(mint string, p float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[mint] = p
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

type fakeExecutor struct {
	mu       sync.Mutex
	oracle   *fakeOracle
	requests []gateway.Request
	seq      int
}

func (f *fakeExecutor) Execute(_ context.Context, req gateway.Request) (*gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	f.oracle.mu.Lock()
	price := f.oracle.prices[req.Asset.Mint] / f.oracle.prices[testQuoteMint]
	f.oracle.mu.Unlock()

	f.seq++
	res := &gateway.Result{
		TxSignature:     fmt.Sprintf("sig-%d", f.seq),
		ExecutedPrice:   price,
		SlippageBpsUsed: req.SlippageBps,
		Attempts:        1,
	}
	if req.Direction == domain.SideBuy {
		res.FilledAmount = req.Amount / price
	} else {
		res.FilledAmount = req.Amount * price
	}
	return res, nil
}

func (f *fakeExecutor) Confirm(context.Context, string) (ledger.Confirmation, error) {
	return ledger.Confirmation{Confirmed: true, Succeeded: true}, nil
}

type fakeFees struct{}

func (fakeFees) ComputeFee(gross float64) float64 { return gross * 0.01 }
func (fakeFees) Collect(context.Context, string, string, float64) (*domain.FeeRecord, error) {
	return &domain.FeeRecord{}, nil
}

type fixture struct {
	svc    *Service
	sched  *scheduler.Scheduler
	oracle *fakeOracle
	gw     *fakeExecutor

	strategies *memory.StrategyStore
	grids      *memory.GridStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	o := &fakeOracle{prices: map[string]float64{testQuoteMint: 1.0, testMint: 100.0}}
	gw := &fakeExecutor{oracle: o}
	strategies := memory.NewStrategyStore()
	grids := memory.NewGridStore()

	cfg := engine.Config{QuoteMint: testQuoteMint, GraceInterval: 90 * time.Second}
	accum := engine.NewAccumulationEngine(gw, o, strategies, fakeFees{}, nil, nil, cfg)
	grid := engine.NewGridEngine(gw, o, grids, fakeFees{}, nil, nil, cfg)

	// Hour-long ticks keep the scheduler from evaluating during tests.
	sched := scheduler.New(scheduler.Config{TickInterval: time.Hour, StartJitter: time.Hour}, nil)
	t.Cleanup(sched.Shutdown)

	svc := New(strategies, grids, accum, grid, sched, fakeMetadata{}, o, testQuoteMint)
	return &fixture{svc: svc, sched: sched, oracle: o, gw: gw, strategies: strategies, grids: grids}
}

func validAccumParams() domain.AccumulationParams {
	return domain.AccumulationParams{
		InitialStepSize: 0.01,
		TriggerDropPct:  0.05,
		StepMultiplier:  2.0,
		MaxSteps:        3,
		ProfitTargetPct: 0.10,
		StopLossPct:     0.30,
		SlippageBps:     100,
		MaxSlippageBps:  300,
		MaxCommitment:   1.0,
	}
}

func validGridParams() domain.GridParams {
	return domain.GridParams{
		TotalCommitment: 100,
		BuyRungCount:    4,
		SellRungCount:   4,
		DropPct:         0.02,
		LeapPct:         0.02,
		SlippageBps:     100,
		MaxSlippageBps:  300,
	}
}

func TestCreateStrategy_PersistsAndResolvesDecimals(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	st, err := fx.svc.CreateStrategy(ctx, "owner-1", testMint, validAccumParams())
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, 6, st.Asset.Decimals)
	assert.Equal(t, domain.StatusActive, st.Status)

	got, err := fx.strategies.Get(ctx, "owner-1", st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
}

func TestCreateStrategy_RejectsBadParams(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	p := validAccumParams()
	p.TriggerDropPct = 1.5
	_, err := fx.svc.CreateStrategy(ctx, "owner-1", testMint, p)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	p = validAccumParams()
	p.MaxCommitment = 0.001 // cannot even cover the entry buy
	_, err = fx.svc.CreateStrategy(ctx, "owner-1", testMint, p)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = fx.svc.CreateStrategy(ctx, "owner-1", "not-a-mint!", validAccumParams())
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestCreateGrid_SeedsAndBuildsLadders(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	g, err := fx.svc.CreateGrid(ctx, "owner-1", testMint, validGridParams())
	require.NoError(t, err)
	assert.InDelta(t, 100.0, g.EntryPrice, 1e-9)
	assert.Len(t, g.BuyRungs, 4)
	assert.Len(t, g.SellRungs, 4)
	assert.InDelta(t, 0.5, g.QuantityHeld, 1e-9)
	require.Len(t, fx.gw.requests, 1)
	assert.InDelta(t, 50.0, fx.gw.requests[0].Amount, 1e-9)
}

func TestPauseResumeStopStrategy(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	st, err := fx.svc.CreateStrategy(ctx, "owner-1", testMint, validAccumParams())
	require.NoError(t, err)

	require.NoError(t, fx.svc.PauseStrategy(ctx, "owner-1", st.ID))
	got, _ := fx.strategies.Get(ctx, "owner-1", st.ID)
	assert.Equal(t, domain.StatusPaused, got.Status)

	require.NoError(t, fx.svc.ResumeStrategy(ctx, "owner-1", st.ID))
	got, _ = fx.strategies.Get(ctx, "owner-1", st.ID)
	assert.Equal(t, domain.StatusActive, got.Status)

	require.NoError(t, fx.svc.StopStrategy(ctx, "owner-1", st.ID))
	got, _ = fx.strategies.Get(ctx, "owner-1", st.ID)
	assert.Equal(t, domain.StatusStopped, got.Status)
	assert.Equal(t, domain.StopReasonOwner, got.StopReason)

	// A stopped instance cannot be resumed.
	err = fx.svc.ResumeStrategy(ctx, "owner-1", st.ID)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	// Stop is idempotent.
	require.NoError(t, fx.svc.StopStrategy(ctx, "owner-1", st.ID))
}

func TestRehydrate_SchedulesActiveAndRepairsInterrupted(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	active := &domain.AccumulationStrategy{
		ID: "strat-active", OwnerID: "owner-1",
		Asset:  domain.Asset{Mint: testMint, Symbol: "TKN", Decimals: 6},
		Params: validAccumParams(), Status: domain.StatusActive,
		PendingAction: "BUY_STEP_0",
		CreatedAtMs:   1, UpdatedAtMs: 1,
	}
	stopped := &domain.AccumulationStrategy{
		ID: "strat-stopped", OwnerID: "owner-1",
		Asset:  domain.Asset{Mint: testMint, Symbol: "TKN", Decimals: 6},
		Params: validAccumParams(), Status: domain.StatusStopped,
		CreatedAtMs: 2, UpdatedAtMs: 2,
	}
	require.NoError(t, fx.strategies.Upsert(ctx, active))
	require.NoError(t, fx.strategies.Upsert(ctx, stopped))

	require.NoError(t, fx.svc.Rehydrate(ctx))

	got, err := fx.strategies.Get(ctx, "owner-1", "strat-active")
	require.NoError(t, err)
	assert.Empty(t, got.PendingAction, "interrupted trade marker must be cleared")
}

func TestSnapshotStrategy_ComputesUnrealizedPnL(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	st := &domain.AccumulationStrategy{
		ID: "strat-1", OwnerID: "owner-1",
		Asset:  domain.Asset{Mint: testMint, Symbol: "TKN", Decimals: 6},
		Params: validAccumParams(), Status: domain.StatusActive,
		CommittedGross: 0.03, FeesPaid: 0.0003, QuantityHeld: 0.0003,
		CreatedAtMs: 1, UpdatedAtMs: 1,
	}
	require.NoError(t, fx.strategies.Upsert(ctx, st))

	fx.oracle.set(testMint, 110)
	snap, err := fx.svc.SnapshotStrategy(ctx, "owner-1", "strat-1")
	require.NoError(t, err)

	assert.InDelta(t, 110.0, snap.CurrentPrice, 1e-9)
	assert.InDelta(t, 0.033, snap.UnrealizedValue, 1e-9)
	assert.InDelta(t, 0.033-0.0297, snap.UnrealizedPnL, 1e-9)
}

func TestSnapshotGrid_CountsArmedRungs(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	g, err := fx.svc.CreateGrid(ctx, "owner-1", testMint, validGridParams())
	require.NoError(t, err)

	g.BuyRungs[0].Filled = true
	g.BuyRungs[1].FillCount = domain.MaxRungFills
	require.NoError(t, fx.grids.Upsert(ctx, g))

	snap, err := fx.svc.SnapshotGrid(ctx, "owner-1", g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ArmedBuyRungs)
	assert.Equal(t, 4, snap.ArmedSellRungs)
}
