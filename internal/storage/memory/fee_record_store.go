package memory

import (
	"context"
	"sort"
	"sync"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/storage"
)

// FeeRecordStore is an in-memory implementation of storage.FeeRecordStore.
type FeeRecordStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.FeeRecord
	byTrade map[string]string // tradeID -> record id
}

// NewFeeRecordStore creates a new in-memory fee record store.
func NewFeeRecordStore() *FeeRecordStore {
	return &FeeRecordStore{
		byID:    make(map[string]*domain.FeeRecord),
		byTrade: make(map[string]string),
	}
}

// Compile-time interface check.
var _ storage.FeeRecordStore = (*FeeRecordStore)(nil)

// Insert adds a new record. Returns ErrDuplicateKey if the trade id is
// already tracked.
func (st *FeeRecordStore) Insert(_ context.Context, r *domain.FeeRecord) error {
	if r == nil || r.ID == "" || r.TradeID == "" {
		return storage.ErrInvalidInput
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.byTrade[r.TradeID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := st.byID[r.ID]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *r
	st.byID[r.ID] = &cp
	st.byTrade[r.TradeID] = r.ID
	return nil
}

// Update replaces an existing record.
func (st *FeeRecordStore) Update(_ context.Context, r *domain.FeeRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.byID[r.ID]; !exists {
		return storage.ErrNotFound
	}
	cp := *r
	st.byID[r.ID] = &cp
	return nil
}

// GetByTradeID retrieves the record for a trade.
func (st *FeeRecordStore) GetByTradeID(_ context.Context, tradeID string) (*domain.FeeRecord, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	id, ok := st.byTrade[tradeID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *st.byID[id]
	return &cp, nil
}

// ListByOwner retrieves all records of an owner, ordered by creation
// time ASC.
func (st *FeeRecordStore) ListByOwner(_ context.Context, ownerID string) ([]*domain.FeeRecord, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var result []*domain.FeeRecord
	for _, r := range st.byID {
		if r.OwnerID == ownerID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAtMs < result[j].CreatedAtMs
	})
	return result, nil
}
