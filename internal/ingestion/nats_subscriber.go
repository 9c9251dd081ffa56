package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"PariLedger/internal/observability"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// operations into the engine loop via opChan. NATS JetStream is the
// primary high-throughput ingestion surface; each operation kind has its
// own subject.
type NATSSubscriber struct {
	js        jetstream.JetStream
	opChan    chan<- RawOperation
	consumers []jetstream.ConsumeContext
	metrics   *observability.Metrics
}

// RawOperation is the received-but-untyped operation from NATS, ready for
// the shell to parse into a typed op.Operation before handing to the engine.
type RawOperation struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func() // Call to ACK the NATS message after successful processing
	NakFunc  func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to operation kinds.
type SubjectConfig struct {
	Subject      string
	OpKind       string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "pari.ops.market.create.>", OpKind: "CreateMarket", ConsumerName: "ledger-market-create", StreamName: "PARI_MARKETS"},
		{Subject: "pari.ops.stake.place.>", OpKind: "PlaceStake", ConsumerName: "ledger-stake-place", StreamName: "PARI_STAKES"},
		{Subject: "pari.ops.lifecycle.lock.>", OpKind: "LockMarket", ConsumerName: "ledger-lock", StreamName: "PARI_LIFECYCLE"},
		{Subject: "pari.ops.lifecycle.resolve.>", OpKind: "ResolveMarket", ConsumerName: "ledger-resolve", StreamName: "PARI_LIFECYCLE"},
		{Subject: "pari.ops.lifecycle.cancel.>", OpKind: "CancelMarket", ConsumerName: "ledger-cancel", StreamName: "PARI_LIFECYCLE"},
		{Subject: "pari.ops.claim.winnings.>", OpKind: "ClaimWinnings", ConsumerName: "ledger-claim-win", StreamName: "PARI_CLAIMS"},
		{Subject: "pari.ops.claim.refund.>", OpKind: "ClaimRefund", ConsumerName: "ledger-claim-refund", StreamName: "PARI_CLAIMS"},
		{Subject: "pari.ops.admin.oracle.>", OpKind: "SetOracle", ConsumerName: "ledger-admin-oracle", StreamName: "PARI_ADMIN"},
		{Subject: "pari.ops.admin.treasury.>", OpKind: "SetTreasury", ConsumerName: "ledger-admin-treasury", StreamName: "PARI_ADMIN"},
		{Subject: "pari.ops.admin.fee.>", OpKind: "SetFee", ConsumerName: "ledger-admin-fee", StreamName: "PARI_ADMIN"},
		{Subject: "pari.ops.admin.pause.>", OpKind: "TogglePause", ConsumerName: "ledger-admin-pause", StreamName: "PARI_ADMIN"},
		{Subject: "pari.ops.admin.creator.>", OpKind: "AuthorizeCreator", ConsumerName: "ledger-admin-creator", StreamName: "PARI_ADMIN"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, opChan chan<- RawOperation, metrics *observability.Metrics) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		opChan:  opChan,
		metrics: metrics,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		filterSubject := cfg.Subject
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			if ns.metrics != nil {
				if meta, err := msg.Metadata(); err == nil {
					ns.metrics.NATSPullLatency.WithLabelValues(filterSubject).Observe(time.Since(meta.Timestamp).Seconds())
				}
			}

			raw := RawOperation{
				Subject:  msg.Subject(),
				Data:     msg.Data(),
				Received: time.Now(),
				AckFunc:  func() { msg.Ack() },
				NakFunc:  func() { msg.Nak() },
			}

			select {
			case ns.opChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "PARI_MARKETS",
			Subjects:  []string{"pari.ops.market.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PARI_STAKES",
			Subjects:  []string{"pari.ops.stake.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PARI_LIFECYCLE",
			Subjects:  []string{"pari.ops.lifecycle.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PARI_CLAIMS",
			Subjects:  []string{"pari.ops.claim.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PARI_ADMIN",
			Subjects:  []string{"pari.ops.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
