package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"PariLedger/internal/achieve"
)

// OutboundPublisher publishes applied operation results and achievement
// milestones to NATS for downstream consumers. Results go out only after the
// operation is in the op log; a dropped publish is non-fatal because the log
// remains the source of truth.
type OutboundPublisher struct {
	js         jetstream.JetStream
	results    <-chan PublishableResult
	milestones <-chan achieve.Event
}

// PublishableResult is an applied operation ready for outbound publishing.
type PublishableResult struct {
	Sequence       int64           `json:"sequence"`
	OpKind         string          `json:"op_kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Caller         string          `json:"caller"`
	MarketID       *uint64         `json:"market_id,omitempty"`
	Height         uint64          `json:"height"`
	Result         json.RawMessage `json:"result,omitempty"`
	StateHash      []byte          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, results <-chan PublishableResult, milestones <-chan achieve.Event) *OutboundPublisher {
	return &OutboundPublisher{
		js:         js,
		results:    results,
		milestones: milestones,
	}
}

// Run starts the outbound publisher loop. Results publish to
// pari.ledger.results.{op_kind}[.{market_id}], milestones to
// pari.ledger.milestones.{milestone}.
func (p *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res, ok := <-p.results:
			if !ok {
				return nil
			}
			if err := p.publishResult(ctx, res); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", res.Sequence, err)
				// Non-fatal: downstream consumers can query the op log directly
			}

		case ev, ok := <-p.milestones:
			if !ok {
				return nil
			}
			if err := p.publishMilestone(ctx, ev); err != nil {
				log.Printf("WARN: milestone publish failed user=%s milestone=%s: %v", ev.User, ev.Milestone, err)
			}
		}
	}
}

func (p *OutboundPublisher) publishResult(ctx context.Context, res PublishableResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	subject := fmt.Sprintf("pari.ledger.results.%s", res.OpKind)
	if res.MarketID != nil {
		subject = fmt.Sprintf("%s.%d", subject, *res.MarketID)
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

func (p *OutboundPublisher) publishMilestone(ctx context.Context, ev achieve.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal milestone: %w", err)
	}

	subject := fmt.Sprintf("pari.ledger.milestones.%s", ev.Milestone)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound ledger stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PARI_LEDGER_EVENTS",
		Subjects:  []string{"pari.ledger.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream PARI_LEDGER_EVENTS")
	return nil
}
