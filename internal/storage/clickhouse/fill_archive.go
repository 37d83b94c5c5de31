package clickhouse

import (
	"context"
	"fmt"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/storage"
)

// FillArchive implements storage.FillArchive using ClickHouse. The archive
// is strictly append-only; the durable instance record stays the source of
// truth for engine state.
type FillArchive struct {
	conn *Conn
}

// NewFillArchive creates a new FillArchive.
func NewFillArchive(conn *Conn) *FillArchive {
	return &FillArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.FillArchive = (*FillArchive)(nil)

// Append records a confirmed fill for an instance.
func (s *FillArchive) Append(ctx context.Context, instanceKind, instanceID, ownerID string, f *domain.Fill) error {
	if f == nil {
		return fmt.Errorf("%w: fill is nil", storage.ErrInvalidInput)
	}

	err := s.conn.Exec(ctx, `
		INSERT INTO fills (
			instance_kind, instance_id, owner_id, side,
			trigger_price, executed_price, requested_size, received_size,
			spent_amount, tx_signature, fee_paid, slippage_bps_used, timestamp_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		instanceKind, instanceID, ownerID, f.Side,
		f.TriggerPrice, f.ExecutedPrice, f.RequestedSize, f.ReceivedSize,
		f.SpentAmount, f.TxSignature, f.FeePaid, int32(f.SlippageBpsUsed), uint64(f.TimestampMs),
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// ListByInstance retrieves the archived fills of one instance, ordered by
// confirmation time ASC.
func (s *FillArchive) ListByInstance(ctx context.Context, instanceID string) ([]*domain.Fill, error) {
	query := `
		SELECT side, trigger_price, executed_price, requested_size, received_size,
		       spent_amount, tx_signature, fee_paid, slippage_bps_used, timestamp_ms
		FROM fills
		WHERE instance_id = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query fills by instance: %w", err)
	}
	defer rows.Close()

	var out []*domain.Fill
	for rows.Next() {
		var (
			f           domain.Fill
			slippage    int32
			timestampMs uint64
		)
		err := rows.Scan(
			&f.Side, &f.TriggerPrice, &f.ExecutedPrice, &f.RequestedSize, &f.ReceivedSize,
			&f.SpentAmount, &f.TxSignature, &f.FeePaid, &slippage, &timestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.SlippageBpsUsed = int(slippage)
		f.TimestampMs = int64(timestampMs)
		out = append(out, &f)
	}
	return out, rows.Err()
}
