package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// OpLogWriter writes applied operations to Postgres using batch inserts.
// Multi-row INSERT is used as a portable alternative to the COPY protocol;
// switch to pgx CopyFrom if write throughput ever becomes the bottleneck.
type OpLogWriter struct {
	db *sql.DB
}

// OpRow represents a row in settlement.ops.
type OpRow struct {
	Sequence       int64
	OpKind         string
	IdempotencyKey string
	Caller         string
	MarketID       *uint64
	Height         uint64
	SourceSequence int64
	Payload        []byte // JSON-encoded operation, replayed on restart
	Result         []byte // JSON-encoded operation result
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

func NewOpLogWriter(db *sql.DB) *OpLogWriter {
	return &OpLogWriter{db: db}
}

// WriteOpBatch writes a batch of operations to settlement.ops inside tx.
func (w *OpLogWriter) WriteOpBatch(ctx context.Context, tx *sql.Tx, ops []OpRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.ops
		(sequence, op_kind, idempotency_key, caller, market_id, height, source_sequence, payload, result, state_hash, prev_hash, received_at)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*12)

	for i, o := range ops {
		base := i * 12
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			o.Sequence, o.OpKind, o.IdempotencyKey, o.Caller, marketIDArg(o.MarketID),
			int64(o.Height), o.SourceSequence, o.Payload, o.Result,
			o.StateHash, o.PrevHash, o.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// marketIDArg converts the nullable market id for the driver.
func marketIDArg(id *uint64) interface{} {
	if id == nil {
		return nil
	}
	return int64(*id)
}
