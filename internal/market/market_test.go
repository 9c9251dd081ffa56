package market_test

import (
	"errors"
	"testing"

	"PariLedger/internal/access"
	"PariLedger/internal/domain"
	"PariLedger/internal/market"
)

func newRegistry() (*access.Config, *market.Registry) {
	return access.NewConfig("deployer"), market.NewRegistry()
}

// ============================================================================
// Test: Create
// ============================================================================

func TestCreate_SequentialIDsFromZero(t *testing.T) {
	cfg, reg := newRegistry()

	for want := uint64(0); want < 3; want++ {
		m, err := reg.Create(cfg, "deployer", 10, "t", "d", "c", []string{"yes", "no"}, 20, 30)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if m.ID != want {
			t.Errorf("id: got %d, want %d", m.ID, want)
		}
	}
	if got := reg.Count(); got != 3 {
		t.Errorf("count: got %d, want 3", got)
	}
}

func TestCreate_DefaultsActiveEmptyPool(t *testing.T) {
	cfg, reg := newRegistry()
	m, err := reg.Create(cfg, "deployer", 10, "t", "d", "c", []string{"a", "b", "c"}, 20, 30)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.State != market.StateActive {
		t.Errorf("state: got %v, want active", m.State)
	}
	if m.TotalPool != 0 || m.WinningOutcome != nil || m.FeeAccrued != 0 {
		t.Errorf("fresh market carries settlement data: %+v", m)
	}
	if m.CreatedHeight != 10 {
		t.Errorf("created height: got %d, want 10", m.CreatedHeight)
	}
}

func TestCreate_OutcomeCountBounds(t *testing.T) {
	cfg, reg := newRegistry()

	_, err := reg.Create(cfg, "deployer", 10, "t", "d", "c", []string{"only"}, 20, 30)
	if !errors.Is(err, domain.ErrTooFewOutcomes) {
		t.Errorf("1 outcome: got %v, want ErrTooFewOutcomes", err)
	}

	eleven := make([]string, 11)
	for i := range eleven {
		eleven[i] = "o"
	}
	_, err = reg.Create(cfg, "deployer", 10, "t", "d", "c", eleven, 20, 30)
	if !errors.Is(err, domain.ErrTooManyOutcomes) {
		t.Errorf("11 outcomes: got %v, want ErrTooManyOutcomes", err)
	}

	ten := eleven[:10]
	if _, err := reg.Create(cfg, "deployer", 10, "t", "d", "c", ten, 20, 30); err != nil {
		t.Errorf("10 outcomes rejected: %v", err)
	}
}

func TestCreate_HeightGates(t *testing.T) {
	cfg, reg := newRegistry()

	// lock height equal to current height is already in the past
	_, err := reg.Create(cfg, "deployer", 20, "t", "d", "c", []string{"a", "b"}, 20, 30)
	if !errors.Is(err, domain.ErrLockNotInFuture) {
		t.Errorf("lock==height: got %v, want ErrLockNotInFuture", err)
	}

	_, err = reg.Create(cfg, "deployer", 10, "t", "d", "c", []string{"a", "b"}, 30, 30)
	if !errors.Is(err, domain.ErrLockAfterResolution) {
		t.Errorf("lock==resolution: got %v, want ErrLockAfterResolution", err)
	}

	_, err = reg.Create(cfg, "deployer", 10, "t", "d", "c", []string{"a", "b"}, 40, 30)
	if !errors.Is(err, domain.ErrLockAfterResolution) {
		t.Errorf("lock>resolution: got %v, want ErrLockAfterResolution", err)
	}
}

func TestCreate_UnauthorizedAndPaused(t *testing.T) {
	cfg, reg := newRegistry()

	_, err := reg.Create(cfg, "alice", 10, "t", "d", "c", []string{"a", "b"}, 20, 30)
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("unauthorized creator: got %v, want ErrNotAuthorized", err)
	}

	if _, err := cfg.TogglePause("deployer"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err = reg.Create(cfg, "deployer", 10, "t", "d", "c", []string{"a", "b"}, 20, 30)
	if !errors.Is(err, domain.ErrPaused) {
		t.Errorf("paused: got %v, want ErrPaused", err)
	}
}

func TestCreate_FailureDoesNotConsumeID(t *testing.T) {
	cfg, reg := newRegistry()

	if _, err := reg.Create(cfg, "deployer", 10, "t", "d", "c", []string{"a"}, 20, 30); err == nil {
		t.Fatal("expected failure")
	}
	if cfg.NextMarketID != 0 {
		t.Errorf("failed create consumed an id: next=%d", cfg.NextMarketID)
	}
}

// ============================================================================
// Test: Get / List
// ============================================================================

func TestGet_Missing(t *testing.T) {
	_, reg := newRegistry()
	_, err := reg.Get(99)
	if !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("got %v, want ErrMarketNotFound", err)
	}
}

func TestList_CreationOrder(t *testing.T) {
	cfg, reg := newRegistry()
	for i := 0; i < 3; i++ {
		if _, err := reg.Create(cfg, "deployer", 10, "t", "d", "c", []string{"a", "b"}, 20, 30); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("len: got %d, want 3", len(list))
	}
	for i, m := range list {
		if m.ID != uint64(i) {
			t.Errorf("position %d holds market %d", i, m.ID)
		}
	}
}
