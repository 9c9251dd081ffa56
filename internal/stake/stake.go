// Package stake tracks per-outcome pools and per-user positions. All
// mutation goes through PlaceStake; a failed call leaves pools, positions
// and the bank untouched.
package stake

import (
	"PariLedger/internal/access"
	"PariLedger/internal/bank"
	"PariLedger/internal/domain"
	"PariLedger/internal/fpmath"
	"PariLedger/internal/market"
)

const (
	// MinStake is the smallest accepted stake, in minimal units.
	MinStake = 1_000_000
	// MaxStake caps a single stake call.
	MaxStake = 100_000_000
)

// OutcomePool aggregates all stakes on one outcome of one market.
type OutcomePool struct {
	TotalStaked uint64
	StakerCount uint64
}

// UserStake is one user's position on one outcome.
type UserStake struct {
	Amount      uint64
	FirstHeight uint64
	LastHeight  uint64
	Claimed     bool
}

type poolKey struct {
	MarketID uint64
	Outcome  uint64
}

type stakeKey struct {
	User     string
	MarketID uint64
	Outcome  uint64
}

// Ledger owns every pool and position across all markets.
type Ledger struct {
	pools  map[poolKey]*OutcomePool
	stakes map[stakeKey]*UserStake
}

func NewLedger() *Ledger {
	return &Ledger{
		pools:  make(map[poolKey]*OutcomePool),
		stakes: make(map[stakeKey]*UserStake),
	}
}

// InitPools creates empty pools for every outcome of a new market.
func (l *Ledger) InitPools(m *market.Market) {
	for i := range m.Outcomes {
		l.pools[poolKey{m.ID, uint64(i)}] = &OutcomePool{}
	}
}

// PlaceStake debits the caller and adds to the pools. Every validation
// runs before the debit so a failure changes nothing anywhere.
func (l *Ledger) PlaceStake(cfg *access.Config, b bank.Transfer, m *market.Market, caller string, height, outcome, amount uint64) error {
	if err := cfg.RequireNotPaused(); err != nil {
		return err
	}
	if m.State != market.StateActive {
		return domain.ErrInvalidMarketState
	}
	if height >= m.LockHeight {
		return domain.ErrMarketLocked
	}
	if outcome >= uint64(len(m.Outcomes)) {
		return domain.ErrInvalidOutcome
	}
	if amount < MinStake {
		return domain.ErrStakeTooLow
	}
	if amount > MaxStake {
		return domain.ErrStakeTooHigh
	}

	pool := l.pool(m.ID, outcome)
	us := l.stakes[stakeKey{caller, m.ID, outcome}]

	var prior uint64
	if us != nil {
		prior = us.Amount
	}
	newAmount, err := fpmath.AddChecked(prior, amount)
	if err != nil {
		return domain.ErrAmountOverflow
	}
	newPoolTotal, err := fpmath.AddChecked(pool.TotalStaked, amount)
	if err != nil {
		return domain.ErrAmountOverflow
	}
	newMarketTotal, err := fpmath.AddChecked(m.TotalPool, amount)
	if err != nil {
		return domain.ErrAmountOverflow
	}

	if err := b.Debit(caller, amount); err != nil {
		return err
	}

	if us == nil {
		us = &UserStake{FirstHeight: height}
		l.stakes[stakeKey{caller, m.ID, outcome}] = us
		pool.StakerCount++
	}
	us.Amount = newAmount
	us.LastHeight = height
	pool.TotalStaked = newPoolTotal
	m.TotalPool = newMarketTotal
	return nil
}

func (l *Ledger) pool(marketID, outcome uint64) *OutcomePool {
	k := poolKey{marketID, outcome}
	p, ok := l.pools[k]
	if !ok {
		p = &OutcomePool{}
		l.pools[k] = p
	}
	return p
}

// Pool returns the aggregate for one outcome; zero-valued if untouched.
func (l *Ledger) Pool(marketID, outcome uint64) OutcomePool {
	if p, ok := l.pools[poolKey{marketID, outcome}]; ok {
		return *p
	}
	return OutcomePool{}
}

// Position returns one user's stake on one outcome; zero-valued if none.
func (l *Ledger) Position(user string, marketID, outcome uint64) UserStake {
	if s, ok := l.stakes[stakeKey{user, marketID, outcome}]; ok {
		return *s
	}
	return UserStake{}
}

// MarkClaimed flags a position as settled. The caller has already checked
// the position exists and is unclaimed.
func (l *Ledger) MarkClaimed(user string, marketID, outcome uint64) {
	s, ok := l.stakes[stakeKey{user, marketID, outcome}]
	if !ok {
		panic("FATAL: marking a stake that does not exist")
	}
	s.Claimed = true
}

// SumPools adds every outcome pool of a market. Used by the engine's
// post-apply invariant check against Market.TotalPool.
func (l *Ledger) SumPools(m *market.Market) uint64 {
	var sum uint64
	for i := range m.Outcomes {
		sum += l.Pool(m.ID, uint64(i)).TotalStaked
	}
	return sum
}

// UserMarketTotal sums a user's stakes across all outcomes of a market and
// reports the lowest staked outcome index.
func (l *Ledger) UserMarketTotal(user string, m *market.Market) (total uint64, firstOutcome uint64, staked bool) {
	for i := range m.Outcomes {
		s := l.Position(user, m.ID, uint64(i))
		if s.Amount == 0 {
			continue
		}
		if !staked {
			firstOutcome = uint64(i)
			staked = true
		}
		total += s.Amount
	}
	return total, firstOutcome, staked
}
