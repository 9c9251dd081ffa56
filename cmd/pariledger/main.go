package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"PariLedger/internal/achieve"
	"PariLedger/internal/bank"
	"PariLedger/internal/config"
	"PariLedger/internal/engine"
	"PariLedger/internal/ingestion"
	"PariLedger/internal/observability"
	"PariLedger/internal/op"
	"PariLedger/internal/persistence"
	"PariLedger/internal/projection"
	"PariLedger/internal/query"
	"PariLedger/internal/server"
	"PariLedger/migrations"
)

// parsedOp carries a typed operation from the NATS parse loop to the engine
// loop along with its receive time for latency tracking.
type parsedOp struct {
	o        op.Operation
	received time.Time
}

func main() {
	boot := observability.NewLogger("main")

	cfgPath := os.Getenv("PARI_CONFIG")
	if cfgPath == "" {
		cfgPath = "pariledger.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		boot.Fatal().Err(err).Str("path", cfgPath).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("invalid config")
	}

	level, lerr := zerolog.ParseLevel(cfg.LogLevel)
	if lerr != nil {
		level = zerolog.InfoLevel
	}
	logger := observability.NewLoggerWithLevel("main", level)
	logger.Info().Str("config", cfgPath).Msg("PariLedger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, migrations.Files)
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// Value custody lives upstream: operations arrive with funds already
	// escrowed, so the engine mirrors flows. Swap in a real Transfer backend
	// here when one exists.
	transfer := bank.NewMirror()

	// --- Engine + cold replay ---
	// State lives only in memory, so every start replays the full op log.
	// Output channels and the Postgres dedup tier stay detached until the
	// replay is verified against the stored chain tip.
	eng := engine.NewEngine(cfg.Engine.Deployer, 0, cfg.Engine.LRUCapacity, nil, nil, nil, nil, transfer, metrics)
	recovery := persistence.NewRecoveryLoader(db)

	tip, err := recovery.LoadChainTip(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load chain tip")
	}

	// Projections behind the op log (first start against an existing log, or
	// a rebuild request) get repopulated by a temporary worker fed from the
	// replay itself. Sends block during replay, so no delta is skipped.
	projSeq, err := projection.LastAppliedSequence(ctx, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("load projection watermark")
	}
	var (
		replayProj     chan op.Output
		replayProjDone chan error
	)
	if tip != nil && projSeq < tip.Sequence {
		logger.Info().
			Int64("projection", projSeq).
			Int64("oplog", tip.Sequence).
			Msg("projections behind op log, repopulating during replay")
		replayProj = make(chan op.Output, cfg.Engine.ProjectChanSize)
		replayProjDone = make(chan error, 1)
		eng.ReplayProjections(replayProj)
		replayWorker := projection.NewProjectionWorker(db, replayProj, metrics)
		go func() { replayProjDone <- replayWorker.Run(context.Background()) }()
	}

	replayStart := time.Now()
	replayed, err := replayOpLog(ctx, recovery, eng)
	if err != nil {
		logger.Fatal().Err(err).Msg("op log replay")
	}
	if replayProj != nil {
		close(replayProj)
		if err := <-replayProjDone; err != nil {
			logger.Fatal().Err(err).Msg("projection repopulation")
		}
	}

	if tip != nil {
		if got := eng.Sequence(); got != tip.Sequence+1 {
			logger.Fatal().Int64("engine", got).Int64("tip", tip.Sequence).Msg("sequence mismatch after replay")
		}
		hash := eng.StateHash()
		if !bytes.Equal(hash[:], tip.StateHash) {
			logger.Fatal().
				Hex("got", hash[:]).
				Hex("want", tip.StateHash).
				Msg("state hash mismatch after replay")
		}
	}
	logger.Info().
		Int64("ops", replayed).
		Int64("sequence", eng.Sequence()).
		Dur("took", time.Since(replayStart)).
		Msg("op log replayed and verified")

	// --- Channels ---
	// Persist output is teed: the op-log write path keeps blocking semantics
	// so backpressure reaches the engine, the outbound publish fork drops.
	persistRaw := make(chan op.Output, cfg.Engine.PersistChanSize)
	persistChan := make(chan op.Output, cfg.Engine.PersistChanSize)
	projectionChan := make(chan op.Output, cfg.Engine.ProjectChanSize)
	milestoneChan := make(chan achieve.Event, cfg.Engine.MilestoneSize)
	pubResults := make(chan ingestion.PublishableResult, cfg.Engine.PublishChanSize)
	pubMilestones := make(chan achieve.Event, cfg.Engine.MilestoneSize)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	eng.GoLive(persistRaw, projectionChan, milestoneChan, dbChecker)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure nats streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	rawChan := make(chan ingestion.RawOperation, cfg.Engine.OpChannelSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, metrics)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	natsOps := make(chan parsedOp, cfg.Engine.OpChannelSize)
	adminOps := make(chan op.Operation, 64)
	inject := ingestion.NewAdminInjectService(adminOps)

	// --- Services ---
	queryService := query.NewQueryService(db)
	history := projection.NewMilestoneHistory()
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr)
	httpServer := server.NewHTTPServer(cfg.Server.HTTPAddr, queryService, history, recovery, inject, db, healthChecker, metrics)

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout.Duration, metrics)
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics)
	publisher := ingestion.NewOutboundPublisher(js, pubResults, pubMilestones)

	// --- Goroutines ---
	errChan := make(chan error, 8)
	engineDone := make(chan struct{})

	go func() { errChan <- persistWorker.Run(ctx) }()
	go func() { errChan <- projWorker.Run(ctx) }()
	go func() { errChan <- publisher.Run(ctx) }()
	go teePersistOutputs(persistRaw, persistChan, pubResults, metrics)
	go fanOutMilestones(milestoneChan, history, pubMilestones)
	go runParseLoop(ctx, rawChan, natsOps, observability.NewLoggerWithLevel("ingest", level))
	go runEngineLoop(ctx, eng, natsOps, adminOps, metrics, observability.NewLoggerWithLevel("engine", level), engineDone)
	go func() { errChan <- grpcServer.Start(ctx) }()
	go func() { errChan <- httpServer.Start(ctx) }()
	go watchChannels(ctx, metrics, map[string]chanLen{
		"raw_ops":    func() (int, int) { return len(rawChan), cap(rawChan) },
		"nats_ops":   func() (int, int) { return len(natsOps), cap(natsOps) },
		"persist":    func() (int, int) { return len(persistRaw), cap(persistRaw) },
		"projection": func() (int, int) { return len(projectionChan), cap(projectionChan) },
		"milestones": func() (int, int) { return len(milestoneChan), cap(milestoneChan) },
		"publish":    func() (int, int) { return len(pubResults), cap(pubResults) },
	})

	healthChecker.SetReady(true)
	grpcServer.SetReady(true)
	logger.Info().
		Int64("sequence", eng.Sequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Msg("PariLedger ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	grpcServer.SetReady(false)
	subscriber.Stop()
	cancel()

	// The engine must stop before its output channels close.
	select {
	case <-engineDone:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("engine loop did not stop in time")
	}
	close(persistRaw)
	close(milestoneChan)

	// Let the tee and workers drain their final batches.
	time.Sleep(500 * time.Millisecond)
	logger.Info().Msg("shutdown complete")
}

// replayOpLog feeds every stored operation back through the engine in
// sequence order. Any error is fatal: a log that cannot replay cleanly means
// the state cannot be trusted.
func replayOpLog(ctx context.Context, loader *persistence.RecoveryLoader, eng *engine.Engine) (int64, error) {
	const pageSize = 1000
	var from, total int64

	for {
		rows, err := loader.LoadOpsFrom(ctx, from, pageSize)
		if err != nil {
			return total, fmt.Errorf("load ops from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		for _, row := range rows {
			o, err := ingestion.ParseRawOperation(ingestion.RawOperation{Data: row.Payload}, row.OpKind)
			if err != nil {
				return total, fmt.Errorf("parse stored op seq=%d kind=%s: %w", row.Sequence, row.OpKind, err)
			}
			if err := eng.Process(o); err != nil {
				return total, fmt.Errorf("replay op seq=%d kind=%s: %w", row.Sequence, row.OpKind, err)
			}
			total++
		}

		from = rows[len(rows)-1].Sequence + 1
	}
}

// teePersistOutputs forwards engine outputs to the op-log writer (blocking,
// so backpressure propagates) and forks a publishable copy to the outbound
// channel (drop-on-full; the op log stays the source of truth).
func teePersistOutputs(in <-chan op.Output, persistOut chan<- op.Output, publishOut chan<- ingestion.PublishableResult, metrics *observability.Metrics) {
	defer close(persistOut)
	defer close(publishOut)

	for output := range in {
		persistOut <- output

		select {
		case publishOut <- toPublishable(output.Envelope):
		default:
			if metrics != nil {
				metrics.PublishDrops.Inc()
			}
		}
	}
}

func toPublishable(env *op.Envelope) ingestion.PublishableResult {
	return ingestion.PublishableResult{
		Sequence:       env.Sequence,
		OpKind:         env.Kind.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller,
		MarketID:       env.MarketID,
		Height:         env.Height,
		Result:         json.RawMessage(env.Result),
		StateHash:      env.StateHash[:],
		Timestamp:      time.Now(),
	}
}

// fanOutMilestones records milestone events in the in-memory history and
// forks them to the outbound publisher.
func fanOutMilestones(in <-chan achieve.Event, history *projection.MilestoneHistory, publishOut chan<- achieve.Event) {
	defer close(publishOut)

	for ev := range in {
		history.Record(ev)
		select {
		case publishOut <- ev:
		default:
			// Publish drop is fine; the history keeps the record.
		}
	}
}

// runParseLoop turns raw NATS messages into typed operations. Messages are
// acked after the channel send, not after engine processing, so AckWait
// cannot expire mid-apply and backpressure reaches JetStream naturally.
// Malformed payloads are acked and dropped: redelivery cannot fix them.
func runParseLoop(ctx context.Context, rawChan <-chan ingestion.RawOperation, natsOps chan<- parsedOp, logger zerolog.Logger) {
	defer close(natsOps)

	kinds := subjectKinds()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			kind := resolveOpKind(raw.Subject, kinds)
			if kind == "" {
				logger.Warn().Str("subject", raw.Subject).Msg("unknown subject")
				raw.AckFunc()
				continue
			}

			o, err := ingestion.ParseRawOperation(raw, kind)
			if err != nil {
				logger.Warn().Str("subject", raw.Subject).Err(err).Msg("drop malformed operation")
				raw.AckFunc()
				continue
			}

			select {
			case natsOps <- parsedOp{o: o, received: raw.Received}:
				raw.AckFunc()
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

// subjectKinds builds the subject-prefix to op-kind lookup from the default
// subject table, with the trailing ".>" wildcard stripped.
func subjectKinds() map[string]string {
	m := make(map[string]string)
	for _, sc := range ingestion.DefaultSubjects() {
		m[strings.TrimSuffix(sc.Subject, ".>")] = sc.OpKind
	}
	return m
}

// resolveOpKind matches a subject against the longest configured prefix.
func resolveOpKind(subject string, prefixes map[string]string) string {
	best, kind := "", ""
	for prefix, k := range prefixes {
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(best) {
			best, kind = prefix, k
		}
	}
	return kind
}

// runEngineLoop is the single goroutine that drives the engine. NATS traffic
// and operator injections merge here; nothing else may call Process.
func runEngineLoop(
	ctx context.Context,
	eng *engine.Engine,
	natsOps <-chan parsedOp,
	adminOps <-chan op.Operation,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	done chan<- struct{},
) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case p, ok := <-natsOps:
			if !ok {
				return
			}
			if err := eng.Process(p.o); err != nil {
				// Rejections are normal operation: validation failures
				// mutate nothing and carry a domain code.
				logger.Debug().
					Str("kind", p.o.Kind().String()).
					Str("key", p.o.IdempotencyKey()).
					Err(err).
					Msg("operation rejected")
			}
			if metrics != nil {
				metrics.IngestToApply.WithLabelValues(p.o.Kind().String()).Observe(time.Since(p.received).Seconds())
			}

		case o, ok := <-adminOps:
			if !ok {
				return
			}
			if err := eng.Process(o); err != nil {
				logger.Warn().
					Str("kind", o.Kind().String()).
					Err(err).
					Msg("injected operation rejected")
			}
		}
	}
}

type chanLen func() (size, capacity int)

// watchChannels samples channel occupancy for the utilization gauges.
func watchChannels(ctx context.Context, metrics *observability.Metrics, channels map[string]chanLen) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, fn := range channels {
				size, capacity := fn()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}
