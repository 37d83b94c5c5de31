package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/storage"
)

// StrategyStore implements storage.StrategyStore backed by PostgreSQL.
// The fill log, asset and params travel as JSONB; scalar cycle state lives
// in columns so aggregates stay queryable.
type StrategyStore struct {
	pool *Pool
}

// NewStrategyStore creates a PostgreSQL-backed strategy store.
func NewStrategyStore(pool *Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

const strategyColumns = `owner_id, id, asset, params, status, stop_reason,
	step_index, committed_gross, fees_paid, quantity_held, avg_entry_price,
	last_fill_price, high_price, low_price, fills, cycle_count,
	lifetime_realized_profit, pending_action, last_error, created_at_ms, updated_at_ms`

func (s *StrategyStore) LoadAll(ctx context.Context) ([]*domain.AccumulationStrategy, error) {
	query := fmt.Sprintf(`SELECT %s FROM strategies ORDER BY created_at_ms ASC`, strategyColumns)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()

	var out []*domain.AccumulationStrategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *StrategyStore) Get(ctx context.Context, ownerID, id string) (*domain.AccumulationStrategy, error) {
	if ownerID == "" || id == "" {
		return nil, fmt.Errorf("%w: owner id and id are required", storage.ErrInvalidInput)
	}

	query := fmt.Sprintf(`SELECT %s FROM strategies WHERE owner_id = $1 AND id = $2`, strategyColumns)

	st, err := scanStrategy(s.pool.QueryRow(ctx, query, ownerID, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: strategy %s/%s", storage.ErrNotFound, ownerID, id)
		}
		return nil, err
	}
	return st, nil
}

func (s *StrategyStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.AccumulationStrategy, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrInvalidInput)
	}

	query := fmt.Sprintf(`SELECT %s FROM strategies WHERE owner_id = $1 ORDER BY created_at_ms ASC`, strategyColumns)

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query strategies by owner: %w", err)
	}
	defer rows.Close()

	var out []*domain.AccumulationStrategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *StrategyStore) Upsert(ctx context.Context, st *domain.AccumulationStrategy) error {
	if st == nil {
		return fmt.Errorf("%w: strategy is nil", storage.ErrInvalidInput)
	}
	if st.OwnerID == "" || st.ID == "" {
		return fmt.Errorf("%w: owner id and id are required", storage.ErrInvalidInput)
	}

	asset, err := json.Marshal(st.Asset)
	if err != nil {
		return fmt.Errorf("marshal asset: %w", err)
	}
	params, err := json.Marshal(st.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	fills, err := json.Marshal(st.Fills)
	if err != nil {
		return fmt.Errorf("marshal fills: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO strategies (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (owner_id, id) DO UPDATE SET
			status = EXCLUDED.status,
			stop_reason = EXCLUDED.stop_reason,
			step_index = EXCLUDED.step_index,
			committed_gross = EXCLUDED.committed_gross,
			fees_paid = EXCLUDED.fees_paid,
			quantity_held = EXCLUDED.quantity_held,
			avg_entry_price = EXCLUDED.avg_entry_price,
			last_fill_price = EXCLUDED.last_fill_price,
			high_price = EXCLUDED.high_price,
			low_price = EXCLUDED.low_price,
			fills = EXCLUDED.fills,
			cycle_count = EXCLUDED.cycle_count,
			lifetime_realized_profit = EXCLUDED.lifetime_realized_profit,
			pending_action = EXCLUDED.pending_action,
			last_error = EXCLUDED.last_error,
			updated_at_ms = EXCLUDED.updated_at_ms`, strategyColumns)

	_, err = s.pool.Exec(ctx, query,
		st.OwnerID, st.ID, asset, params, string(st.Status), st.StopReason,
		st.StepIndex, st.CommittedGross, st.FeesPaid, st.QuantityHeld, st.AvgEntryPrice,
		st.LastFillPrice, st.HighPrice, st.LowPrice, fills, st.CycleCount,
		st.LifetimeRealizedProfit, st.PendingAction, st.LastError, st.CreatedAtMs, st.UpdatedAtMs)
	if err != nil {
		return fmt.Errorf("upsert strategy %s/%s: %w", st.OwnerID, st.ID, err)
	}
	return nil
}

func (s *StrategyStore) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" || id == "" {
		return fmt.Errorf("%w: owner id and id are required", storage.ErrInvalidInput)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM strategies WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete strategy %s/%s: %w", ownerID, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: strategy %s/%s", storage.ErrNotFound, ownerID, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row rowScanner) (*domain.AccumulationStrategy, error) {
	var (
		st            domain.AccumulationStrategy
		status        string
		asset, params []byte
		fills         []byte
	)
	err := row.Scan(
		&st.OwnerID, &st.ID, &asset, &params, &status, &st.StopReason,
		&st.StepIndex, &st.CommittedGross, &st.FeesPaid, &st.QuantityHeld, &st.AvgEntryPrice,
		&st.LastFillPrice, &st.HighPrice, &st.LowPrice, &fills, &st.CycleCount,
		&st.LifetimeRealizedProfit, &st.PendingAction, &st.LastError, &st.CreatedAtMs, &st.UpdatedAtMs)
	if err != nil {
		return nil, err
	}

	st.Status = domain.InstanceStatus(status)
	if err := json.Unmarshal(asset, &st.Asset); err != nil {
		return nil, fmt.Errorf("unmarshal asset: %w", err)
	}
	if err := json.Unmarshal(params, &st.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal(fills, &st.Fills); err != nil {
		return nil, fmt.Errorf("unmarshal fills: %w", err)
	}
	return &st, nil
}
