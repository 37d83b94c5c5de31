package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/storage"
)

// GridStore implements storage.GridStore backed by PostgreSQL. Rung ladders
// and the fill log travel as JSONB.
type GridStore struct {
	pool *Pool
}

// NewGridStore creates a PostgreSQL-backed grid store.
func NewGridStore(pool *Pool) *GridStore {
	return &GridStore{pool: pool}
}

const gridColumns = `owner_id, id, asset, params, status, stop_reason,
	entry_price, quantity_held, buy_rungs, sell_rungs, committed_total,
	total_returned, realized_profit, needs_regrid, fills, pending_action,
	last_error, created_at_ms, updated_at_ms`

func (s *GridStore) LoadAll(ctx context.Context) ([]*domain.Grid, error) {
	query := fmt.Sprintf(`SELECT %s FROM grids ORDER BY created_at_ms ASC`, gridColumns)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query grids: %w", err)
	}
	defer rows.Close()

	var out []*domain.Grid
	for rows.Next() {
		g, err := scanGrid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *GridStore) Get(ctx context.Context, ownerID, id string) (*domain.Grid, error) {
	if ownerID == "" || id == "" {
		return nil, fmt.Errorf("%w: owner id and id are required", storage.ErrInvalidInput)
	}

	query := fmt.Sprintf(`SELECT %s FROM grids WHERE owner_id = $1 AND id = $2`, gridColumns)

	g, err := scanGrid(s.pool.QueryRow(ctx, query, ownerID, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: grid %s/%s", storage.ErrNotFound, ownerID, id)
		}
		return nil, err
	}
	return g, nil
}

func (s *GridStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Grid, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrInvalidInput)
	}

	query := fmt.Sprintf(`SELECT %s FROM grids WHERE owner_id = $1 ORDER BY created_at_ms ASC`, gridColumns)

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query grids by owner: %w", err)
	}
	defer rows.Close()

	var out []*domain.Grid
	for rows.Next() {
		g, err := scanGrid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *GridStore) Upsert(ctx context.Context, g *domain.Grid) error {
	if g == nil {
		return fmt.Errorf("%w: grid is nil", storage.ErrInvalidInput)
	}
	if g.OwnerID == "" || g.ID == "" {
		return fmt.Errorf("%w: owner id and id are required", storage.ErrInvalidInput)
	}

	asset, err := json.Marshal(g.Asset)
	if err != nil {
		return fmt.Errorf("marshal asset: %w", err)
	}
	params, err := json.Marshal(g.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	buyRungs, err := json.Marshal(g.BuyRungs)
	if err != nil {
		return fmt.Errorf("marshal buy rungs: %w", err)
	}
	sellRungs, err := json.Marshal(g.SellRungs)
	if err != nil {
		return fmt.Errorf("marshal sell rungs: %w", err)
	}
	fills, err := json.Marshal(g.Fills)
	if err != nil {
		return fmt.Errorf("marshal fills: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO grids (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (owner_id, id) DO UPDATE SET
			status = EXCLUDED.status,
			stop_reason = EXCLUDED.stop_reason,
			entry_price = EXCLUDED.entry_price,
			quantity_held = EXCLUDED.quantity_held,
			buy_rungs = EXCLUDED.buy_rungs,
			sell_rungs = EXCLUDED.sell_rungs,
			committed_total = EXCLUDED.committed_total,
			total_returned = EXCLUDED.total_returned,
			realized_profit = EXCLUDED.realized_profit,
			needs_regrid = EXCLUDED.needs_regrid,
			fills = EXCLUDED.fills,
			pending_action = EXCLUDED.pending_action,
			last_error = EXCLUDED.last_error,
			updated_at_ms = EXCLUDED.updated_at_ms`, gridColumns)

	_, err = s.pool.Exec(ctx, query,
		g.OwnerID, g.ID, asset, params, string(g.Status), g.StopReason,
		g.EntryPrice, g.QuantityHeld, buyRungs, sellRungs, g.CommittedTotal,
		g.TotalReturned, g.RealizedProfit, g.NeedsRegrid, fills, g.PendingAction,
		g.LastError, g.CreatedAtMs, g.UpdatedAtMs)
	if err != nil {
		return fmt.Errorf("upsert grid %s/%s: %w", g.OwnerID, g.ID, err)
	}
	return nil
}

func (s *GridStore) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" || id == "" {
		return fmt.Errorf("%w: owner id and id are required", storage.ErrInvalidInput)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM grids WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete grid %s/%s: %w", ownerID, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: grid %s/%s", storage.ErrNotFound, ownerID, id)
	}
	return nil
}

func scanGrid(row rowScanner) (*domain.Grid, error) {
	var (
		g                   domain.Grid
		status              string
		asset, params       []byte
		buyRungs, sellRungs []byte
		fills               []byte
	)
	err := row.Scan(
		&g.OwnerID, &g.ID, &asset, &params, &status, &g.StopReason,
		&g.EntryPrice, &g.QuantityHeld, &buyRungs, &sellRungs, &g.CommittedTotal,
		&g.TotalReturned, &g.RealizedProfit, &g.NeedsRegrid, &fills, &g.PendingAction,
		&g.LastError, &g.CreatedAtMs, &g.UpdatedAtMs)
	if err != nil {
		return nil, err
	}

	g.Status = domain.InstanceStatus(status)
	if err := json.Unmarshal(asset, &g.Asset); err != nil {
		return nil, fmt.Errorf("unmarshal asset: %w", err)
	}
	if err := json.Unmarshal(params, &g.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal(buyRungs, &g.BuyRungs); err != nil {
		return nil, fmt.Errorf("unmarshal buy rungs: %w", err)
	}
	if err := json.Unmarshal(sellRungs, &g.SellRungs); err != nil {
		return nil, fmt.Errorf("unmarshal sell rungs: %w", err)
	}
	if err := json.Unmarshal(fills, &g.Fills); err != nil {
		return nil, fmt.Errorf("unmarshal fills: %w", err)
	}
	return &g, nil
}
