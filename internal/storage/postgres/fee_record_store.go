package postgres

import (
	"context"
	"fmt"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/storage"
)

// FeeRecordStore implements storage.FeeRecordStore backed by PostgreSQL.
// A unique index on trade_id makes fee collection idempotent across crashes.
type FeeRecordStore struct {
	pool *Pool
}

// NewFeeRecordStore creates a PostgreSQL-backed fee record store.
func NewFeeRecordStore(pool *Pool) *FeeRecordStore {
	return &FeeRecordStore{pool: pool}
}

const feeColumns = `id, owner_id, trade_id, amount, destination, tx_signature,
	status, created_at_ms, updated_at_ms`

func (s *FeeRecordStore) Insert(ctx context.Context, r *domain.FeeRecord) error {
	if r == nil {
		return fmt.Errorf("%w: fee record is nil", storage.ErrInvalidInput)
	}
	if r.ID == "" || r.TradeID == "" {
		return fmt.Errorf("%w: id and trade id are required", storage.ErrInvalidInput)
	}

	query := fmt.Sprintf(`
		INSERT INTO fee_records (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, feeColumns)

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.OwnerID, r.TradeID, r.Amount, r.Destination, r.TxSignature,
		string(r.Status), r.CreatedAtMs, r.UpdatedAtMs)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: fee record for trade %s", storage.ErrDuplicateKey, r.TradeID)
		}
		return fmt.Errorf("insert fee record %s: %w", r.ID, err)
	}
	return nil
}

func (s *FeeRecordStore) Update(ctx context.Context, r *domain.FeeRecord) error {
	if r == nil {
		return fmt.Errorf("%w: fee record is nil", storage.ErrInvalidInput)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", storage.ErrInvalidInput)
	}

	query := `
		UPDATE fee_records SET
			amount = $2,
			destination = $3,
			tx_signature = $4,
			status = $5,
			updated_at_ms = $6
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		r.ID, r.Amount, r.Destination, r.TxSignature, string(r.Status), r.UpdatedAtMs)
	if err != nil {
		return fmt.Errorf("update fee record %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: fee record %s", storage.ErrNotFound, r.ID)
	}
	return nil
}

func (s *FeeRecordStore) GetByTradeID(ctx context.Context, tradeID string) (*domain.FeeRecord, error) {
	if tradeID == "" {
		return nil, fmt.Errorf("%w: trade id is required", storage.ErrInvalidInput)
	}

	query := fmt.Sprintf(`SELECT %s FROM fee_records WHERE trade_id = $1`, feeColumns)

	r, err := scanFeeRecord(s.pool.QueryRow(ctx, query, tradeID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: fee record for trade %s", storage.ErrNotFound, tradeID)
		}
		return nil, err
	}
	return r, nil
}

func (s *FeeRecordStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.FeeRecord, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrInvalidInput)
	}

	query := fmt.Sprintf(`SELECT %s FROM fee_records WHERE owner_id = $1 ORDER BY created_at_ms ASC`, feeColumns)

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query fee records by owner: %w", err)
	}
	defer rows.Close()

	var out []*domain.FeeRecord
	for rows.Next() {
		r, err := scanFeeRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanFeeRecord(row rowScanner) (*domain.FeeRecord, error) {
	var (
		r      domain.FeeRecord
		status string
	)
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.TradeID, &r.Amount, &r.Destination, &r.TxSignature,
		&status, &r.CreatedAtMs, &r.UpdatedAtMs)
	if err != nil {
		return nil, err
	}
	r.Status = domain.FeeStatus(status)
	return &r, nil
}
