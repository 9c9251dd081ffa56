package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// RecoveryLoader reads the op log back for restart. State lives only in the
// engine's memory, so every restart is a cold replay: feed the stored payloads
// through the engine in sequence order, then verify the recomputed chain tip
// against the stored one.
type RecoveryLoader struct {
	db *sql.DB
}

func NewRecoveryLoader(db *sql.DB) *RecoveryLoader {
	return &RecoveryLoader{db: db}
}

// LoadOpsFrom loads operations from a given sequence in apply order.
// Callers page through the log with (fromSequence, limit).
func (rl *RecoveryLoader) LoadOpsFrom(ctx context.Context, fromSequence int64, limit int) ([]OpRow, error) {
	rows, err := rl.db.QueryContext(ctx, `
		SELECT sequence, op_kind, idempotency_key, caller, market_id, height,
		       source_sequence, payload, result, state_hash, prev_hash, received_at
		FROM settlement.ops
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OpRow
	for rows.Next() {
		var o OpRow
		var marketID sql.NullInt64
		var height int64
		if err := rows.Scan(
			&o.Sequence, &o.OpKind, &o.IdempotencyKey, &o.Caller, &marketID,
			&height, &o.SourceSequence, &o.Payload, &o.Result,
			&o.StateHash, &o.PrevHash, &o.Timestamp,
		); err != nil {
			return nil, err
		}
		if marketID.Valid {
			id := uint64(marketID.Int64)
			o.MarketID = &id
		}
		o.Height = uint64(height)
		ops = append(ops, o)
	}

	return ops, rows.Err()
}

// ChainTip is the last persisted point of the hash chain.
type ChainTip struct {
	Sequence  int64
	StateHash []byte
}

// LoadChainTip returns the highest persisted sequence and its state hash.
// Returns nil on an empty op log (genesis start).
func (rl *RecoveryLoader) LoadChainTip(ctx context.Context) (*ChainTip, error) {
	row := rl.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash
		FROM settlement.ops
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var tip ChainTip
	if err := row.Scan(&tip.Sequence, &tip.StateHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load chain tip: %w", err)
	}
	return &tip, nil
}

// GetLatestSequence returns the highest sequence in the op log.
func (rl *RecoveryLoader) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := rl.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM settlement.ops
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty op log
	}
	return seq.Int64, nil
}

// LoadRecentKeys returns the most recent composite dedup keys for LRU warming,
// newest first. Composite form is "{op_kind}:{idempotency_key}".
func (rl *RecoveryLoader) LoadRecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := rl.db.QueryContext(ctx, `
		SELECT op_kind || ':' || idempotency_key
		FROM settlement.ops
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
