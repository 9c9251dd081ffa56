package persistence_test

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"PariLedger/internal/bank"
	"PariLedger/internal/engine"
	"PariLedger/internal/ingestion"
	"PariLedger/internal/op"
	"PariLedger/internal/persistence"
	"PariLedger/internal/testutil"
	"PariLedger/migrations"
)

// ============================================================================
// Helpers
// ============================================================================

func setupDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	if err := persistence.NewMigrator(db, migrations.Files).Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate up: %v", err)
	}
	return db, cleanup
}

// runSampleOps drives an engine through a create + stake and returns the
// emitted envelopes as op-log rows, plus the resulting chain tip hash.
func runSampleOps(t *testing.T) ([]persistence.OpRow, [32]byte) {
	t.Helper()

	persist := make(chan op.Output, 16)
	eng := engine.NewEngine("deployer", 0, 1024, persist, nil, nil, nil, bank.NewMirror(), nil)

	ops := []op.Operation{
		&op.CreateMarket{
			Base:             op.Base{Key: uuid.NewString(), Actor: "deployer", BlockHeight: 10},
			Title:            "Will it rain tomorrow?",
			Outcomes:         []string{"Yes", "No"},
			LockHeight:       100,
			ResolutionHeight: 200,
		},
		&op.PlaceStake{
			Base:    op.Base{Key: uuid.NewString(), Actor: "alice", BlockHeight: 20, SourceSeq: 7},
			Market:  0,
			Outcome: 0,
			Amount:  2_000_000,
		},
	}
	for _, o := range ops {
		if err := eng.Process(o); err != nil {
			t.Fatalf("process %s: %v", o.Kind(), err)
		}
	}
	close(persist)

	var rows []persistence.OpRow
	for out := range persist {
		env := out.Envelope
		rows = append(rows, persistence.OpRow{
			Sequence:       env.Sequence,
			OpKind:         env.Kind.String(),
			IdempotencyKey: env.IdempotencyKey,
			Caller:         env.Caller,
			MarketID:       env.MarketID,
			Height:         env.Height,
			SourceSequence: env.SourceSequence,
			Payload:        env.Payload,
			Result:         env.Result,
			StateHash:      append([]byte(nil), env.StateHash[:]...),
			PrevHash:       append([]byte(nil), env.PrevHash[:]...),
			Timestamp:      time.Now(),
		})
	}
	return rows, eng.StateHash()
}

func writeRows(t *testing.T, db *sql.DB, rows []persistence.OpRow) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := persistence.NewOpLogWriter(db).WriteOpBatch(ctx, tx, rows); err != nil {
		tx.Rollback()
		t.Fatalf("write batch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// ============================================================================
// Op log round trip
// ============================================================================

func TestOpLog_WriteAndRecover(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	rows, tipHash := runSampleOps(t)
	if len(rows) != 2 {
		t.Fatalf("sample ops: got %d rows, want 2", len(rows))
	}
	writeRows(t, db, rows)

	// Re-writing the same batch is a no-op (conflict on sequence).
	writeRows(t, db, rows)
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM settlement.ops`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("ops after duplicate write: got %d, want 2", count)
	}

	loader := persistence.NewRecoveryLoader(db)

	got, err := loader.LoadOpsFrom(ctx, 0, 10)
	if err != nil {
		t.Fatalf("load ops: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded ops: got %d, want 2", len(got))
	}
	if got[0].OpKind != "CreateMarket" || got[1].OpKind != "PlaceStake" {
		t.Errorf("op order: got %s, %s", got[0].OpKind, got[1].OpKind)
	}
	if got[1].SourceSequence != 7 {
		t.Errorf("source sequence: got %d, want 7", got[1].SourceSequence)
	}

	tip, err := loader.LoadChainTip(ctx)
	if err != nil {
		t.Fatalf("chain tip: %v", err)
	}
	if tip == nil {
		t.Fatal("chain tip is nil for a non-empty log")
	}
	if tip.Sequence != 1 {
		t.Errorf("tip sequence: got %d, want 1", tip.Sequence)
	}
	if !bytes.Equal(tip.StateHash, tipHash[:]) {
		t.Errorf("tip hash does not match the engine's chain tip")
	}

	latest, err := loader.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if latest != 1 {
		t.Errorf("latest sequence: got %d, want 1", latest)
	}

	keys, err := loader.LoadRecentKeys(ctx, 10)
	if err != nil {
		t.Fatalf("recent keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("recent keys: got %d, want 2", len(keys))
	}
	// Newest first.
	if keys[0] != "PlaceStake:"+rows[1].IdempotencyKey {
		t.Errorf("first key: got %q", keys[0])
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	if dup, err := checker.IsDuplicate("PlaceStake", rows[1].IdempotencyKey); err != nil || !dup {
		t.Errorf("seen key: got dup=%v err=%v, want true", dup, err)
	}
	if dup, err := checker.IsDuplicate("PlaceStake", uuid.NewString()); err != nil || dup {
		t.Errorf("unseen key: got dup=%v err=%v, want false", dup, err)
	}
}

// ============================================================================
// Recovery paths
// ============================================================================

func TestColdReplay_ReproducesChain(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	rows, tipHash := runSampleOps(t)
	writeRows(t, db, rows)

	loader := persistence.NewRecoveryLoader(db)
	stored, err := loader.LoadOpsFrom(ctx, 0, 100)
	if err != nil {
		t.Fatalf("load ops: %v", err)
	}

	eng := engine.NewEngine("deployer", 0, 1024, nil, nil, nil, nil, bank.NewMirror(), nil)
	for _, row := range stored {
		o, err := ingestion.ParseRawOperation(ingestion.RawOperation{Data: row.Payload}, row.OpKind)
		if err != nil {
			t.Fatalf("parse stored op seq=%d: %v", row.Sequence, err)
		}
		if err := eng.Process(o); err != nil {
			t.Fatalf("replay seq=%d: %v", row.Sequence, err)
		}
	}

	if eng.Sequence() != 2 {
		t.Errorf("sequence after replay: got %d, want 2", eng.Sequence())
	}
	if eng.StateHash() != tipHash {
		t.Error("replayed chain tip differs from the original run")
	}
}

func TestWarmStart_RestoresChainAndSkipsSeenOps(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	rows, _ := runSampleOps(t)
	writeRows(t, db, rows)

	loader := persistence.NewRecoveryLoader(db)
	tip, err := loader.LoadChainTip(ctx)
	if err != nil || tip == nil {
		t.Fatalf("chain tip: tip=%v err=%v", tip, err)
	}
	keys, err := loader.LoadRecentKeys(ctx, 1000)
	if err != nil {
		t.Fatalf("recent keys: %v", err)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	eng := engine.NewEngine("deployer", 0, 1024, nil, nil, nil, checker, bank.NewMirror(), nil)

	var tipHash [32]byte
	copy(tipHash[:], tip.StateHash)
	eng.RestoreChain(tip.Sequence+1, tipHash)
	eng.WarmLRU(keys)

	if eng.Sequence() != tip.Sequence+1 {
		t.Errorf("restored sequence: got %d, want %d", eng.Sequence(), tip.Sequence+1)
	}

	// A previously applied op is a silent skip, not an error.
	seen, err := ingestion.ParseRawOperation(ingestion.RawOperation{Data: rows[1].Payload}, rows[1].OpKind)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := eng.Process(seen); err != nil {
		t.Errorf("duplicate op: got %v, want nil", err)
	}
	if eng.Sequence() != tip.Sequence+1 {
		t.Errorf("sequence advanced on a duplicate: got %d", eng.Sequence())
	}
}

// ============================================================================
// Worker
// ============================================================================

func TestPersistenceWorker_FlushesOnClose(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	persist := make(chan op.Output, 16)
	eng := engine.NewEngine("deployer", 0, 1024, persist, nil, nil, nil, bank.NewMirror(), nil)

	if err := eng.Process(&op.CreateMarket{
		Base:             op.Base{Key: uuid.NewString(), Actor: "deployer", BlockHeight: 10},
		Title:            "Worker flush",
		Outcomes:         []string{"Yes", "No"},
		LockHeight:       100,
		ResolutionHeight: 200,
	}); err != nil {
		t.Fatalf("process: %v", err)
	}

	// Batch size larger than the op count: only close triggers the flush.
	worker := persistence.NewPersistenceWorker(db, persist, 100, 50*time.Millisecond, nil)
	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	close(persist)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after channel close")
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM settlement.ops`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("persisted ops: got %d, want 1", count)
	}
}
