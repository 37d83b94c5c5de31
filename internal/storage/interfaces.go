package storage

import (
	"context"

	"solana-strategy-engine/internal/domain"
)

// StrategyStore is the durable registry of accumulation strategies. It is
// the single source of truth for what has already happened: every
// state-changing evaluation is followed by a synchronous Upsert before the
// instance's next tick may fire.
type StrategyStore interface {
	// LoadAll returns every persisted strategy. Read once at process start
	// to rehydrate the active set.
	LoadAll(ctx context.Context) ([]*domain.AccumulationStrategy, error)

	// Get retrieves a strategy by owner and id. Returns ErrNotFound if it
	// does not exist.
	Get(ctx context.Context, ownerID, id string) (*domain.AccumulationStrategy, error)

	// ListByOwner retrieves all strategies of an owner, ordered by
	// creation time ASC.
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.AccumulationStrategy, error)

	// Upsert inserts or replaces a strategy record, including its full
	// fill log. Durable before return.
	Upsert(ctx context.Context, s *domain.AccumulationStrategy) error

	// Delete removes a strategy. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, ownerID, id string) error
}

// GridStore is the durable registry of grid instances. Semantics mirror
// StrategyStore.
type GridStore interface {
	LoadAll(ctx context.Context) ([]*domain.Grid, error)
	Get(ctx context.Context, ownerID, id string) (*domain.Grid, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Grid, error)
	Upsert(ctx context.Context, g *domain.Grid) error
	Delete(ctx context.Context, ownerID, id string) error
}

// FeeRecordStore tracks platform-fee transfers, keyed by record id with a
// uniqueness constraint on trade id for idempotent collection.
type FeeRecordStore interface {
	// Insert adds a new record. Returns ErrDuplicateKey if the trade id
	// is already tracked.
	Insert(ctx context.Context, r *domain.FeeRecord) error

	// Update replaces an existing record. Returns ErrNotFound if absent.
	Update(ctx context.Context, r *domain.FeeRecord) error

	// GetByTradeID retrieves the record for a trade. Returns ErrNotFound
	// if the trade has no fee record yet.
	GetByTradeID(ctx context.Context, tradeID string) (*domain.FeeRecord, error)

	// ListByOwner retrieves all fee records of an owner, ordered by
	// creation time ASC.
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.FeeRecord, error)
}

// FillArchive is a best-effort append-only audit sink for confirmed fills.
// Archive failures never block the trading path.
type FillArchive interface {
	// Append records a confirmed fill for an instance.
	Append(ctx context.Context, instanceKind, instanceID, ownerID string, f *domain.Fill) error
}
