package ingestion

import (
	"testing"

	"PariLedger/internal/op"

	"github.com/google/uuid"
)

func rawOp(data string) RawOperation {
	return RawOperation{Subject: "pari.ops.test", Data: []byte(data)}
}

// ============================================================================
// Test: payload parsing
// ============================================================================

func TestParsePlaceStake(t *testing.T) {
	key := uuid.NewString()
	raw := rawOp(`{
		"idempotency_key": "` + key + `",
		"caller": "alice",
		"height": 120,
		"source_sequence": 7,
		"market_id": 3,
		"outcome": 1,
		"amount": 2000000
	}`)

	parsed, err := ParseRawOperation(raw, "PlaceStake")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	stake, ok := parsed.(*op.PlaceStake)
	if !ok {
		t.Fatalf("wrong type: %T", parsed)
	}
	if stake.IdempotencyKey() != key || stake.Caller() != "alice" {
		t.Errorf("base fields: key=%s caller=%s", stake.IdempotencyKey(), stake.Caller())
	}
	if stake.Height() != 120 || stake.SourceSequence() != 7 {
		t.Errorf("ordering fields: height=%d seq=%d", stake.Height(), stake.SourceSequence())
	}
	if stake.Market != 3 || stake.Outcome != 1 || stake.Amount != 2_000_000 {
		t.Errorf("stake fields: %+v", stake)
	}
}

func TestParseCreateMarket(t *testing.T) {
	raw := rawOp(`{
		"idempotency_key": "` + uuid.NewString() + `",
		"caller": "deployer",
		"height": 10,
		"title": "fed cuts rates in march",
		"category": "macro",
		"outcomes": ["yes", "no"],
		"lock_height": 100,
		"resolution_height": 200
	}`)

	parsed, err := ParseRawOperation(raw, "CreateMarket")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	create := parsed.(*op.CreateMarket)
	if create.Title != "fed cuts rates in march" || len(create.Outcomes) != 2 {
		t.Errorf("create fields: %+v", create)
	}
	if create.LockHeight != 100 || create.ResolutionHeight != 200 {
		t.Errorf("heights: %+v", create)
	}
	if create.MarketID() != nil {
		t.Error("create must not carry a market id")
	}
}

func TestParseResolveMarket(t *testing.T) {
	raw := rawOp(`{
		"idempotency_key": "` + uuid.NewString() + `",
		"caller": "oracle-1",
		"height": 200,
		"market_id": 5,
		"winning_outcome": 2
	}`)

	parsed, err := ParseRawOperation(raw, "ResolveMarket")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	resolve := parsed.(*op.ResolveMarket)
	if resolve.Market != 5 || resolve.WinningOutcome != 2 {
		t.Errorf("resolve fields: %+v", resolve)
	}
	if got := resolve.Kind(); got != op.KindResolveMarket {
		t.Errorf("kind: %v", got)
	}
}

func TestParseAuthorizeCreator(t *testing.T) {
	raw := rawOp(`{
		"idempotency_key": "` + uuid.NewString() + `",
		"caller": "deployer",
		"height": 8,
		"creator": "alice",
		"allowed": true
	}`)

	parsed, err := ParseRawOperation(raw, "AuthorizeCreator")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	auth := parsed.(*op.AuthorizeCreator)
	if auth.Creator != "alice" || !auth.Allowed {
		t.Errorf("authorize fields: %+v", auth)
	}
}

// ============================================================================
// Test: rejection of malformed payloads
// ============================================================================

func TestParseUnknownKind(t *testing.T) {
	_, err := ParseRawOperation(rawOp(`{}`), "DeleteMarket")
	if err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := ParseRawOperation(rawOp(`{not json`), "PlaceStake")
	if err == nil {
		t.Fatal("malformed JSON accepted")
	}
}

func TestParseMissingKey(t *testing.T) {
	raw := rawOp(`{"caller": "alice", "height": 5, "market_id": 0}`)
	if _, err := ParseRawOperation(raw, "ClaimWinnings"); err == nil {
		t.Fatal("missing idempotency_key accepted")
	}
}

func TestParseNonUUIDKey(t *testing.T) {
	raw := rawOp(`{"idempotency_key": "not-a-uuid", "caller": "alice", "height": 5, "market_id": 0}`)
	if _, err := ParseRawOperation(raw, "ClaimWinnings"); err == nil {
		t.Fatal("non-uuid idempotency_key accepted")
	}
}

func TestParseMissingCaller(t *testing.T) {
	raw := rawOp(`{"idempotency_key": "` + uuid.NewString() + `", "height": 5}`)
	if _, err := ParseRawOperation(raw, "TogglePause"); err == nil {
		t.Fatal("missing caller accepted")
	}
}
