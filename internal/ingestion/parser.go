package ingestion

import (
	"PariLedger/internal/op"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ParseRawOperation converts a RawOperation (JSON bytes + kind string) into a
// typed op.Operation. The ingestion shell validates and parses before anything
// reaches the deterministic engine; a payload that fails here is terminally
// malformed and must be ACKed, not retried.
func ParseRawOperation(raw RawOperation, opKind string) (op.Operation, error) {
	var parsed op.Operation
	switch opKind {
	case "CreateMarket":
		parsed = &op.CreateMarket{}
	case "PlaceStake":
		parsed = &op.PlaceStake{}
	case "LockMarket":
		parsed = &op.LockMarket{}
	case "ResolveMarket":
		parsed = &op.ResolveMarket{}
	case "CancelMarket":
		parsed = &op.CancelMarket{}
	case "ClaimWinnings":
		parsed = &op.ClaimWinnings{}
	case "ClaimRefund":
		parsed = &op.ClaimRefund{}
	case "SetOracle":
		parsed = &op.SetOracle{}
	case "SetTreasury":
		parsed = &op.SetTreasury{}
	case "SetFee":
		parsed = &op.SetFee{}
	case "TogglePause":
		parsed = &op.TogglePause{}
	case "AuthorizeCreator":
		parsed = &op.AuthorizeCreator{}
	default:
		return nil, fmt.Errorf("unknown op kind: %s", opKind)
	}

	if err := json.Unmarshal(raw.Data, parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", opKind, err)
	}
	if err := validateBase(parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", opKind, err)
	}
	return parsed, nil
}

// validateBase rejects payloads missing the fields every operation needs.
// The idempotency key must be a UUID so the composite dedup key space stays
// uniform across producers.
func validateBase(o op.Operation) error {
	if o.IdempotencyKey() == "" {
		return fmt.Errorf("missing idempotency_key")
	}
	if _, err := uuid.Parse(o.IdempotencyKey()); err != nil {
		return fmt.Errorf("parse idempotency_key: %w", err)
	}
	if o.Caller() == "" {
		return fmt.Errorf("missing caller")
	}
	return nil
}
