package lifecycle_test

import (
	"errors"
	"testing"

	"PariLedger/internal/access"
	"PariLedger/internal/domain"
	"PariLedger/internal/lifecycle"
	"PariLedger/internal/market"
)

func newMarket(t *testing.T, cfg *access.Config) *market.Market {
	t.Helper()
	reg := market.NewRegistry()
	m, err := reg.Create(cfg, "deployer", 10, "t", "d", "c", []string{"yes", "no"}, 100, 200)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return m
}

// ============================================================================
// Test: Lock
// ============================================================================

func TestLock_Transition(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)

	if err := ctl.Lock(m, "deployer", 100); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if m.State != market.StateLocked {
		t.Errorf("state: got %v, want locked", m.State)
	}
}

func TestLock_NonOracleGetsNotAuthorized(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)

	err := ctl.Lock(m, "mallory", 100)
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("got %v, want ErrNotAuthorized", err)
	}
}

func TestLock_TooEarly(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)

	err := ctl.Lock(m, "deployer", 99)
	if !errors.Is(err, domain.ErrTooEarlyToLock) {
		t.Errorf("got %v, want ErrTooEarlyToLock", err)
	}
	if m.State != market.StateActive {
		t.Errorf("failed lock mutated state: %v", m.State)
	}
}

func TestLock_Twice(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)

	if err := ctl.Lock(m, "deployer", 100); err != nil {
		t.Fatalf("lock: %v", err)
	}
	err := ctl.Lock(m, "deployer", 101)
	if !errors.Is(err, domain.ErrInvalidMarketState) {
		t.Errorf("got %v, want ErrInvalidMarketState", err)
	}
}

// ============================================================================
// Test: Resolve
// ============================================================================

func TestResolve_FromLocked(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)
	m.TotalPool = 10_000_000

	if err := ctl.Lock(m, "deployer", 100); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := ctl.Resolve(m, "deployer", 200, 1); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.State != market.StateResolved {
		t.Errorf("state: got %v, want resolved", m.State)
	}
	if m.WinningOutcome == nil || *m.WinningOutcome != 1 {
		t.Errorf("winning outcome: %v", m.WinningOutcome)
	}
	// 10_000_000 * 300 / 10_000
	if m.FeeAccrued != 300_000 {
		t.Errorf("fee accrued: got %d, want 300_000", m.FeeAccrued)
	}
}

func TestResolve_DirectlyFromActive(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)

	if err := ctl.Resolve(m, "deployer", 200, 0); err != nil {
		t.Errorf("resolve from active rejected: %v", err)
	}
}

func TestResolve_NonOracleGetsInvalidOracle(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)

	err := ctl.Resolve(m, "mallory", 200, 0)
	if !errors.Is(err, domain.ErrInvalidOracle) {
		t.Errorf("got %v, want ErrInvalidOracle", err)
	}
}

func TestResolve_TooEarly(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)

	err := ctl.Resolve(m, "deployer", 199, 0)
	if !errors.Is(err, domain.ErrTooEarlyToResolve) {
		t.Errorf("got %v, want ErrTooEarlyToResolve", err)
	}
}

func TestResolve_InvalidOutcome(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)

	err := ctl.Resolve(m, "deployer", 200, 2)
	if !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Errorf("got %v, want ErrInvalidOutcome", err)
	}
	if m.State != market.StateActive || m.WinningOutcome != nil {
		t.Errorf("failed resolve mutated market: %+v", m)
	}
}

func TestResolve_Twice(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)

	if err := ctl.Resolve(m, "deployer", 200, 0); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	err := ctl.Resolve(m, "deployer", 201, 1)
	if !errors.Is(err, domain.ErrInvalidMarketState) {
		t.Errorf("got %v, want ErrInvalidMarketState", err)
	}
	if *m.WinningOutcome != 0 {
		t.Errorf("second resolve changed the winner: %d", *m.WinningOutcome)
	}
}

func TestResolve_FeeFrozenAtResolutionTime(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)
	m.TotalPool = 10_000_000

	if err := cfg.SetFee("deployer", 500); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := ctl.Resolve(m, "deployer", 200, 0); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.FeeAccrued != 500_000 {
		t.Fatalf("fee accrued: got %d, want 500_000", m.FeeAccrued)
	}

	// later fee changes must not alter the frozen figure
	if err := cfg.SetFee("deployer", 100); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if m.FeeAccrued != 500_000 {
		t.Errorf("fee accrued drifted after config change: %d", m.FeeAccrued)
	}
}

// ============================================================================
// Test: Cancel
// ============================================================================

func TestCancel_FromActiveAndLocked(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)

	active := newMarket(t, cfg)
	if err := ctl.Cancel(active, "deployer"); err != nil {
		t.Errorf("cancel active: %v", err)
	}
	if active.State != market.StateCancelled {
		t.Errorf("state: got %v, want cancelled", active.State)
	}

	locked := newMarket(t, cfg)
	if err := ctl.Lock(locked, "deployer", 100); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := ctl.Cancel(locked, "deployer"); err != nil {
		t.Errorf("cancel locked: %v", err)
	}
}

func TestCancel_AdminOnly(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)

	err := ctl.Cancel(m, "mallory")
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("got %v, want ErrNotAuthorized", err)
	}
}

func TestCancel_ResolvedMarket(t *testing.T) {
	cfg := access.NewConfig("deployer")
	ctl := lifecycle.NewController(cfg)
	m := newMarket(t, cfg)

	if err := ctl.Resolve(m, "deployer", 200, 0); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	err := ctl.Cancel(m, "deployer")
	if !errors.Is(err, domain.ErrInvalidMarketState) {
		t.Errorf("got %v, want ErrInvalidMarketState", err)
	}
}
