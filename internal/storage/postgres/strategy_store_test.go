package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/storage"
)

func createTestStrategy(ownerID, id string, createdAtMs int64) *domain.AccumulationStrategy {
	return &domain.AccumulationStrategy{
		ID:      id,
		OwnerID: ownerID,
		Asset:   domain.Asset{Mint: "So11111111111111111111111111111111111111112", Symbol: "SOL", Decimals: 9},
		Params: domain.AccumulationParams{
			InitialStepSize: 0.01,
			TriggerDropPct:  0.05,
			StepMultiplier:  2.0,
			MaxSteps:        5,
			ProfitTargetPct: 0.10,
			StopLossPct:     0.30,
			SlippageBps:     100,
			MaxSlippageBps:  300,
			MaxCommitment:   1.0,
		},
		Status:      domain.StatusActive,
		CreatedAtMs: createdAtMs,
		UpdatedAtMs: createdAtMs,
	}
}

func TestStrategyStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStrategyStore(pool)

	s := createTestStrategy("owner-1", "strat-1", 1000)
	require.NoError(t, store.Upsert(ctx, s))

	got, err := store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	assert.Equal(t, "strat-1", got.ID)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, 0.01, got.Params.InitialStepSize)
	assert.Empty(t, got.Fills)
}

func TestStrategyStore_UpsertReplacesStateAndFills(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStrategyStore(pool)

	s := createTestStrategy("owner-1", "strat-1", 1000)
	require.NoError(t, store.Upsert(ctx, s))

	s.ApplyBuyFill(domain.Fill{
		Side:          domain.SideBuy,
		ExecutedPrice: 150.0,
		ReceivedSize:  0.0000660,
		SpentAmount:   0.01,
		TxSignature:   "sig-1",
		TimestampMs:   2000,
	})
	require.NoError(t, store.Upsert(ctx, s))

	got, err := store.Get(ctx, "owner-1", "strat-1")
	require.NoError(t, err)
	require.Len(t, got.Fills, 1)
	assert.Equal(t, "sig-1", got.Fills[0].TxSignature)
	assert.Equal(t, 0.01, got.CommittedGross)
	assert.Equal(t, int64(2000), got.UpdatedAtMs)
}

func TestStrategyStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewStrategyStore(pool).Get(context.Background(), "owner-1", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStrategyStore_ListByOwnerOrdered(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStrategyStore(pool)

	require.NoError(t, store.Upsert(ctx, createTestStrategy("owner-1", "strat-b", 2000)))
	require.NoError(t, store.Upsert(ctx, createTestStrategy("owner-1", "strat-a", 1000)))
	require.NoError(t, store.Upsert(ctx, createTestStrategy("owner-2", "strat-c", 500)))

	list, err := store.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "strat-a", list[0].ID)
	assert.Equal(t, "strat-b", list[1].ID)

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStrategyStore_Delete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStrategyStore(pool)

	require.NoError(t, store.Upsert(ctx, createTestStrategy("owner-1", "strat-1", 1000)))
	require.NoError(t, store.Delete(ctx, "owner-1", "strat-1"))

	err := store.Delete(ctx, "owner-1", "strat-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
