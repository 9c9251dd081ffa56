package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PariLedger/internal/op"
)

// AdminInjectService provides manual operation injection for operators. This
// path is for oracle/admin actions and incident recovery, not for
// high-throughput ingestion (use NATS for that). Injected operations join the
// same engine queue as parsed NATS traffic.
type AdminInjectService struct {
	opChan chan<- op.Operation
}

func NewAdminInjectService(opChan chan<- op.Operation) *AdminInjectService {
	return &AdminInjectService{opChan: opChan}
}

func adminBase(caller string, height uint64) op.Base {
	return op.Base{
		Key:         uuid.NewString(),
		Actor:       caller,
		BlockHeight: height,
		// Operator-injected: use timestamp as source ordering
		SourceSeq: time.Now().UnixMicro(),
	}
}

// InjectLock manually locks a market at the given height.
func (s *AdminInjectService) InjectLock(ctx context.Context, caller string, marketID, height uint64) error {
	return s.send(ctx, &op.LockMarket{Base: adminBase(caller, height), Market: marketID})
}

// InjectResolve manually resolves a market on a winning outcome.
func (s *AdminInjectService) InjectResolve(ctx context.Context, caller string, marketID, height, winningOutcome uint64) error {
	return s.send(ctx, &op.ResolveMarket{
		Base:           adminBase(caller, height),
		Market:         marketID,
		WinningOutcome: winningOutcome,
	})
}

// InjectCancel manually cancels a market so stakes become refundable.
func (s *AdminInjectService) InjectCancel(ctx context.Context, caller string, marketID, height uint64) error {
	return s.send(ctx, &op.CancelMarket{Base: adminBase(caller, height), Market: marketID})
}

// InjectPauseToggle flips the platform pause flag.
func (s *AdminInjectService) InjectPauseToggle(ctx context.Context, caller string, height uint64) error {
	return s.send(ctx, &op.TogglePause{Base: adminBase(caller, height)})
}

// InjectSetOracle rotates the oracle address.
func (s *AdminInjectService) InjectSetOracle(ctx context.Context, caller, oracle string, height uint64) error {
	if oracle == "" {
		return fmt.Errorf("oracle must be non-empty")
	}
	return s.send(ctx, &op.SetOracle{Base: adminBase(caller, height), Oracle: oracle})
}

// InjectSetFee changes the platform fee.
func (s *AdminInjectService) InjectSetFee(ctx context.Context, caller string, feeBps, height uint64) error {
	return s.send(ctx, &op.SetFee{Base: adminBase(caller, height), FeeBps: feeBps})
}

func (s *AdminInjectService) send(ctx context.Context, o op.Operation) error {
	select {
	case s.opChan <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
