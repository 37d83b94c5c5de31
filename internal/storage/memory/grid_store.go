package memory

import (
	"context"
	"sort"
	"sync"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/storage"
)

// gridKey identifies a grid record.
type gridKey struct {
	ownerID string
	id      string
}

// GridStore is an in-memory implementation of storage.GridStore.
type GridStore struct {
	mu   sync.RWMutex
	data map[gridKey]*domain.Grid
}

// NewGridStore creates a new in-memory grid store.
func NewGridStore() *GridStore {
	return &GridStore{data: make(map[gridKey]*domain.Grid)}
}

// Compile-time interface check.
var _ storage.GridStore = (*GridStore)(nil)

// cloneGrid deep-copies a record including ladders and fill log.
func cloneGrid(g *domain.Grid) *domain.Grid {
	cp := *g
	cp.BuyRungs = make([]domain.Rung, len(g.BuyRungs))
	copy(cp.BuyRungs, g.BuyRungs)
	cp.SellRungs = make([]domain.Rung, len(g.SellRungs))
	copy(cp.SellRungs, g.SellRungs)
	cp.Fills = make([]domain.Fill, len(g.Fills))
	copy(cp.Fills, g.Fills)
	return &cp
}

// LoadAll returns every persisted grid, ordered by creation time ASC.
func (st *GridStore) LoadAll(_ context.Context) ([]*domain.Grid, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]*domain.Grid, 0, len(st.data))
	for _, g := range st.data {
		result = append(result, cloneGrid(g))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAtMs < result[j].CreatedAtMs
	})
	return result, nil
}

// Get retrieves a grid by owner and id.
func (st *GridStore) Get(_ context.Context, ownerID, id string) (*domain.Grid, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	g, ok := st.data[gridKey{ownerID, id}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneGrid(g), nil
}

// ListByOwner retrieves all grids of an owner, ordered by creation time ASC.
func (st *GridStore) ListByOwner(_ context.Context, ownerID string) ([]*domain.Grid, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var result []*domain.Grid
	for key, g := range st.data {
		if key.ownerID == ownerID {
			result = append(result, cloneGrid(g))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAtMs < result[j].CreatedAtMs
	})
	return result, nil
}

// Upsert inserts or replaces a grid record.
func (st *GridStore) Upsert(_ context.Context, g *domain.Grid) error {
	if g == nil || g.ID == "" || g.OwnerID == "" {
		return storage.ErrInvalidInput
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.data[gridKey{g.OwnerID, g.ID}] = cloneGrid(g)
	return nil
}

// Delete removes a grid record.
func (st *GridStore) Delete(_ context.Context, ownerID, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	key := gridKey{ownerID, id}
	if _, ok := st.data[key]; !ok {
		return storage.ErrNotFound
	}
	delete(st.data, key)
	return nil
}
