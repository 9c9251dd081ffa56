package stake_test

import (
	"errors"
	"testing"

	"PariLedger/internal/access"
	"PariLedger/internal/bank"
	"PariLedger/internal/domain"
	"PariLedger/internal/market"
	"PariLedger/internal/stake"
)

type fixture struct {
	cfg    *access.Config
	bank   *bank.Ledger
	ledger *stake.Ledger
	market *market.Market
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := access.NewConfig("deployer")
	reg := market.NewRegistry()
	m, err := reg.Create(cfg, "deployer", 10, "t", "d", "c", []string{"yes", "no"}, 100, 200)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	l := stake.NewLedger()
	l.InitPools(m)
	b := bank.NewLedger()
	b.Deposit("alice", 500_000_000)
	b.Deposit("bob", 500_000_000)
	return &fixture{cfg: cfg, bank: b, ledger: l, market: m}
}

// ============================================================================
// Test: PlaceStake
// ============================================================================

func TestPlaceStake_UpdatesPoolsAndPosition(t *testing.T) {
	f := newFixture(t)

	if err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 50, 0, 2_000_000); err != nil {
		t.Fatalf("place stake: %v", err)
	}

	pool := f.ledger.Pool(f.market.ID, 0)
	if pool.TotalStaked != 2_000_000 {
		t.Errorf("pool total: got %d, want 2_000_000", pool.TotalStaked)
	}
	if pool.StakerCount != 1 {
		t.Errorf("staker count: got %d, want 1", pool.StakerCount)
	}
	if f.market.TotalPool != 2_000_000 {
		t.Errorf("market total: got %d, want 2_000_000", f.market.TotalPool)
	}

	pos := f.ledger.Position("alice", f.market.ID, 0)
	if pos.Amount != 2_000_000 || pos.FirstHeight != 50 || pos.LastHeight != 50 || pos.Claimed {
		t.Errorf("position: %+v", pos)
	}
	if got := f.bank.BalanceOf("alice"); got != 498_000_000 {
		t.Errorf("balance: got %d, want 498_000_000", got)
	}
}

func TestPlaceStake_RepeatStakeAccumulates(t *testing.T) {
	f := newFixture(t)

	if err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 50, 0, 2_000_000); err != nil {
		t.Fatalf("first stake: %v", err)
	}
	if err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 60, 0, 3_000_000); err != nil {
		t.Fatalf("second stake: %v", err)
	}

	pool := f.ledger.Pool(f.market.ID, 0)
	if pool.TotalStaked != 5_000_000 {
		t.Errorf("pool total: got %d, want 5_000_000", pool.TotalStaked)
	}
	// staker count only moves on the first stake of a user on an outcome
	if pool.StakerCount != 1 {
		t.Errorf("staker count: got %d, want 1", pool.StakerCount)
	}

	pos := f.ledger.Position("alice", f.market.ID, 0)
	if pos.Amount != 5_000_000 || pos.FirstHeight != 50 || pos.LastHeight != 60 {
		t.Errorf("position: %+v", pos)
	}
}

func TestPlaceStake_DistinctUsersAndOutcomes(t *testing.T) {
	f := newFixture(t)

	steps := []struct {
		user    string
		outcome uint64
		amount  uint64
	}{
		{"alice", 0, 2_000_000},
		{"bob", 0, 4_000_000},
		{"bob", 1, 3_000_000},
	}
	for _, s := range steps {
		if err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, s.user, 50, s.outcome, s.amount); err != nil {
			t.Fatalf("stake %v: %v", s, err)
		}
	}

	if p := f.ledger.Pool(f.market.ID, 0); p.TotalStaked != 6_000_000 || p.StakerCount != 2 {
		t.Errorf("outcome 0 pool: %+v", p)
	}
	if p := f.ledger.Pool(f.market.ID, 1); p.TotalStaked != 3_000_000 || p.StakerCount != 1 {
		t.Errorf("outcome 1 pool: %+v", p)
	}
	if f.market.TotalPool != 9_000_000 {
		t.Errorf("market total: got %d, want 9_000_000", f.market.TotalPool)
	}
	if got := f.ledger.SumPools(f.market); got != f.market.TotalPool {
		t.Errorf("pool sum %d != market total %d", got, f.market.TotalPool)
	}
}

func TestPlaceStake_Bounds(t *testing.T) {
	f := newFixture(t)

	err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 50, 0, stake.MinStake-1)
	if !errors.Is(err, domain.ErrStakeTooLow) {
		t.Errorf("below min: got %v, want ErrStakeTooLow", err)
	}
	err = f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 50, 0, stake.MaxStake+1)
	if !errors.Is(err, domain.ErrStakeTooHigh) {
		t.Errorf("above max: got %v, want ErrStakeTooHigh", err)
	}
	if err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 50, 0, stake.MinStake); err != nil {
		t.Errorf("exact min rejected: %v", err)
	}
	if err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 50, 0, stake.MaxStake); err != nil {
		t.Errorf("exact max rejected: %v", err)
	}
}

func TestPlaceStake_InvalidOutcome(t *testing.T) {
	f := newFixture(t)
	err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 50, 2, 2_000_000)
	if !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Errorf("got %v, want ErrInvalidOutcome", err)
	}
}

func TestPlaceStake_AtOrPastLockHeight(t *testing.T) {
	f := newFixture(t)

	err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 100, 0, 2_000_000)
	if !errors.Is(err, domain.ErrMarketLocked) {
		t.Errorf("height==lock: got %v, want ErrMarketLocked", err)
	}
	if err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 99, 0, 2_000_000); err != nil {
		t.Errorf("height just below lock rejected: %v", err)
	}
}

func TestPlaceStake_WrongState(t *testing.T) {
	f := newFixture(t)
	f.market.State = market.StateLocked

	err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 50, 0, 2_000_000)
	if !errors.Is(err, domain.ErrInvalidMarketState) {
		t.Errorf("got %v, want ErrInvalidMarketState", err)
	}
}

func TestPlaceStake_Paused(t *testing.T) {
	f := newFixture(t)
	if _, err := f.cfg.TogglePause("deployer"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "alice", 50, 0, 2_000_000)
	if !errors.Is(err, domain.ErrPaused) {
		t.Errorf("got %v, want ErrPaused", err)
	}
}

func TestPlaceStake_InsufficientBalanceIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.bank.Deposit("carol", 500_000)

	err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "carol", 50, 0, 2_000_000)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if p := f.ledger.Pool(f.market.ID, 0); p.TotalStaked != 0 || p.StakerCount != 0 {
		t.Errorf("failed stake mutated pool: %+v", p)
	}
	if f.market.TotalPool != 0 {
		t.Errorf("failed stake mutated market total: %d", f.market.TotalPool)
	}
	if got := f.bank.BalanceOf("carol"); got != 500_000 {
		t.Errorf("failed stake mutated balance: %d", got)
	}
}

// ============================================================================
// Test: UserMarketTotal
// ============================================================================

func TestUserMarketTotal_SumsAcrossOutcomes(t *testing.T) {
	f := newFixture(t)

	if err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "bob", 50, 1, 3_000_000); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := f.ledger.PlaceStake(f.cfg, f.bank, f.market, "bob", 51, 0, 2_000_000); err != nil {
		t.Fatalf("stake: %v", err)
	}

	total, first, staked := f.ledger.UserMarketTotal("bob", f.market)
	if !staked {
		t.Fatal("expected a position")
	}
	if total != 5_000_000 {
		t.Errorf("total: got %d, want 5_000_000", total)
	}
	if first != 0 {
		t.Errorf("first outcome: got %d, want 0", first)
	}

	_, _, staked = f.ledger.UserMarketTotal("alice", f.market)
	if staked {
		t.Error("alice has no position")
	}
}
