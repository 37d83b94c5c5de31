package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/storage"
)

func createTestGrid(ownerID, id string, createdAtMs int64) *domain.Grid {
	g := &domain.Grid{
		ID:      id,
		OwnerID: ownerID,
		Asset:   domain.Asset{Mint: "So11111111111111111111111111111111111111112", Symbol: "SOL", Decimals: 9},
		Params: domain.GridParams{
			TotalCommitment: 1.0,
			BuyRungCount:    4,
			SellRungCount:   4,
			DropPct:         0.02,
			LeapPct:         0.02,
			SlippageBps:     100,
			MaxSlippageBps:  300,
		},
		Status:      domain.StatusActive,
		CreatedAtMs: createdAtMs,
		UpdatedAtMs: createdAtMs,
	}
	return g
}

func TestGridStore_UpsertRoundTripsRungs(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewGridStore(pool)

	g := createTestGrid("owner-1", "grid-1", 1000)
	g.BuildLadders(100.0, 0.005)
	g.CommittedTotal = 0.5
	g.QuantityHeld = 0.005
	require.NoError(t, store.Upsert(ctx, g))

	got, err := store.Get(ctx, "owner-1", "grid-1")
	require.NoError(t, err)
	require.Len(t, got.BuyRungs, 4)
	require.Len(t, got.SellRungs, 4)
	assert.Equal(t, 100.0, got.EntryPrice)
	assert.Equal(t, g.BuyRungs[0].Price, got.BuyRungs[0].Price)
	assert.Equal(t, 0.5, got.CommittedTotal)
}

func TestGridStore_UpsertReplacesRungState(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewGridStore(pool)

	g := createTestGrid("owner-1", "grid-1", 1000)
	g.BuildLadders(100.0, 0.005)
	require.NoError(t, store.Upsert(ctx, g))

	g.BuyRungs[0].Filled = true
	g.BuyRungs[0].FillCount = 1
	g.UpdatedAtMs = 2000
	require.NoError(t, store.Upsert(ctx, g))

	got, err := store.Get(ctx, "owner-1", "grid-1")
	require.NoError(t, err)
	assert.True(t, got.BuyRungs[0].Filled)
	assert.Equal(t, 1, got.BuyRungs[0].FillCount)
	assert.Equal(t, int64(2000), got.UpdatedAtMs)
}

func TestGridStore_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewGridStore(pool)

	_, err := store.Get(ctx, "owner-1", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "owner-1", "missing"), storage.ErrNotFound)
}
