package memory

import (
	"context"
	"sort"
	"sync"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/storage"
)

// strategyKey identifies a strategy record.
type strategyKey struct {
	ownerID string
	id      string
}

// StrategyStore is an in-memory implementation of storage.StrategyStore.
type StrategyStore struct {
	mu   sync.RWMutex
	data map[strategyKey]*domain.AccumulationStrategy
}

// NewStrategyStore creates a new in-memory strategy store.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{
		data: make(map[strategyKey]*domain.AccumulationStrategy),
	}
}

// Compile-time interface check.
var _ storage.StrategyStore = (*StrategyStore)(nil)

// cloneStrategy deep-copies a record so callers never share fill slices.
func cloneStrategy(s *domain.AccumulationStrategy) *domain.AccumulationStrategy {
	cp := *s
	cp.Fills = make([]domain.Fill, len(s.Fills))
	copy(cp.Fills, s.Fills)
	return &cp
}

// LoadAll returns every persisted strategy, ordered by creation time ASC.
func (st *StrategyStore) LoadAll(_ context.Context) ([]*domain.AccumulationStrategy, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]*domain.AccumulationStrategy, 0, len(st.data))
	for _, s := range st.data {
		result = append(result, cloneStrategy(s))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAtMs < result[j].CreatedAtMs
	})
	return result, nil
}

// Get retrieves a strategy by owner and id.
func (st *StrategyStore) Get(_ context.Context, ownerID, id string) (*domain.AccumulationStrategy, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.data[strategyKey{ownerID, id}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneStrategy(s), nil
}

// ListByOwner retrieves all strategies of an owner, ordered by creation
// time ASC.
func (st *StrategyStore) ListByOwner(_ context.Context, ownerID string) ([]*domain.AccumulationStrategy, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var result []*domain.AccumulationStrategy
	for key, s := range st.data {
		if key.ownerID == ownerID {
			result = append(result, cloneStrategy(s))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAtMs < result[j].CreatedAtMs
	})
	return result, nil
}

// Upsert inserts or replaces a strategy record.
func (st *StrategyStore) Upsert(_ context.Context, s *domain.AccumulationStrategy) error {
	if s == nil || s.ID == "" || s.OwnerID == "" {
		return storage.ErrInvalidInput
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.data[strategyKey{s.OwnerID, s.ID}] = cloneStrategy(s)
	return nil
}

// Delete removes a strategy record.
func (st *StrategyStore) Delete(_ context.Context, ownerID, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	key := strategyKey{ownerID, id}
	if _, ok := st.data[key]; !ok {
		return storage.ErrNotFound
	}
	delete(st.data, key)
	return nil
}
