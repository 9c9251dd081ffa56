package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"PariLedger/internal/observability"
	"PariLedger/internal/op"
)

// ProjectionWorker applies state deltas to the projection tables. The
// projection channel is non-blocking with drop: if projections fall behind,
// they are rebuilt from the op log, so a missed delta is never fatal.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan op.Output
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan op.Output, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.applyOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Envelope.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the op log
			}

			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

func (pw *ProjectionWorker) applyOutput(ctx context.Context, output op.Output) error {
	start := time.Now()
	env := output.Envelope
	delta := output.Delta

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range delta.Markets {
		if err := upsertMarket(ctx, tx, m, env.Sequence); err != nil {
			return fmt.Errorf("market projection: %w", err)
		}
	}
	for _, p := range delta.Pools {
		if err := upsertPool(ctx, tx, p, env.Sequence); err != nil {
			return fmt.Errorf("pool projection: %w", err)
		}
	}
	for _, s := range delta.Stakes {
		if err := upsertStake(ctx, tx, s, env.Sequence); err != nil {
			return fmt.Errorf("stake projection: %w", err)
		}
	}
	if delta.Config != nil {
		if err := upsertConfig(ctx, tx, *delta.Config, env.Sequence); err != nil {
			return fmt.Errorf("config projection: %w", err)
		}
	}

	// Watermark carries the height too so reads can report staleness in
	// chain terms, not just sequence terms.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, last_height, updated_at)
		VALUES ('main', $1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = $1, last_height = $2, updated_at = NOW()
	`, env.Sequence, int64(env.Height)); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
	}
	return nil
}

func upsertMarket(ctx context.Context, tx *sql.Tx, m op.MarketRow, seq int64) error {
	var winning interface{}
	if m.WinningOutcome != nil {
		winning = int64(*m.WinningOutcome)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.markets
			(market_id, title, description, category, outcomes, lock_height,
			 resolution_height, state, total_pool, winning_outcome, creator,
			 created_height, fee_accrued, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (market_id) DO UPDATE SET
			state = EXCLUDED.state,
			total_pool = EXCLUDED.total_pool,
			winning_outcome = EXCLUDED.winning_outcome,
			lock_height = EXCLUDED.lock_height,
			fee_accrued = EXCLUDED.fee_accrued,
			last_sequence = EXCLUDED.last_sequence
	`, int64(m.ID), m.Title, m.Description, m.Category, pq.Array(m.Outcomes),
		int64(m.LockHeight), int64(m.ResolutionHeight), m.State, int64(m.TotalPool),
		winning, m.Creator, int64(m.CreatedHeight), int64(m.FeeAccrued), seq)
	return err
}

func upsertPool(ctx context.Context, tx *sql.Tx, p op.PoolRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.outcome_pools
			(market_id, outcome, total_staked, staker_count, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, outcome) DO UPDATE SET
			total_staked = EXCLUDED.total_staked,
			staker_count = EXCLUDED.staker_count,
			last_sequence = EXCLUDED.last_sequence
	`, int64(p.MarketID), int64(p.Outcome), int64(p.TotalStaked), int64(p.StakerCount), seq)
	return err
}

func upsertStake(ctx context.Context, tx *sql.Tx, s op.StakeRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.user_stakes
			(user_addr, market_id, outcome, amount, first_height, last_height, claimed, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_addr, market_id, outcome) DO UPDATE SET
			amount = EXCLUDED.amount,
			last_height = EXCLUDED.last_height,
			claimed = EXCLUDED.claimed,
			last_sequence = EXCLUDED.last_sequence
	`, s.User, int64(s.MarketID), int64(s.Outcome), int64(s.Amount),
		int64(s.FirstHeight), int64(s.LastHeight), s.Claimed, seq)
	return err
}

func upsertConfig(ctx context.Context, tx *sql.Tx, c op.ConfigRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.contract_config
			(singleton, admin, oracle, treasury, fee_bps, paused, next_market_id, last_sequence)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (singleton) DO UPDATE SET
			admin = EXCLUDED.admin,
			oracle = EXCLUDED.oracle,
			treasury = EXCLUDED.treasury,
			fee_bps = EXCLUDED.fee_bps,
			paused = EXCLUDED.paused,
			next_market_id = EXCLUDED.next_market_id,
			last_sequence = EXCLUDED.last_sequence
	`, c.Admin, c.Oracle, c.Treasury, int64(c.FeeBps), c.Paused, int64(c.NextMarketID), seq)
	return err
}

// LastAppliedSequence returns the main worker's watermark, or -1 when no
// delta was ever applied (fresh database or post-rebuild).
func LastAppliedSequence(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	return seq, nil
}

// RebuildProjections truncates all projection tables and resets the
// watermark. The orchestrator then replays the op log through the engine
// with a fresh projection channel, which repopulates every table.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.markets`,
		`TRUNCATE projections.outcome_pools`,
		`TRUNCATE projections.user_stakes`,
		`TRUNCATE projections.contract_config`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	log.Println("INFO: projection tables reset, replay will repopulate")
	return nil
}
