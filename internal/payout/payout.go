// Package payout computes odds and winnings and performs settlement. The
// arithmetic lives in pure functions so the read path can recompute the
// same figures from projections without touching engine state.
package payout

import (
	"PariLedger/internal/bank"
	"PariLedger/internal/domain"
	"PariLedger/internal/fpmath"
	"PariLedger/internal/market"
	"PariLedger/internal/stake"
)

// Odds returns the inverse odds for an outcome, scaled by 100. A pool of
// 200 means a winning unit pays two units.
func Odds(totalPool, outcomePool uint64) (uint64, error) {
	if outcomePool == 0 {
		return 0, domain.ErrNothingStaked
	}
	odds, err := fpmath.MulDiv(totalPool, fpmath.OddsScale, outcomePool)
	if err != nil {
		return 0, domain.ErrAmountOverflow
	}
	return odds, nil
}

// WinningsFor splits the fee-net pool proportionally: the staker's share of
// distributable = totalPool - fee, floored.
func WinningsFor(totalPool, winnerPool, stakeAmount, fee uint64) (uint64, error) {
	if winnerPool == 0 {
		return 0, domain.ErrNothingStaked
	}
	distributable, err := fpmath.SubChecked(totalPool, fee)
	if err != nil {
		return 0, domain.ErrAmountOverflow
	}
	payout, err := fpmath.MulDiv(distributable, stakeAmount, winnerPool)
	if err != nil {
		return 0, domain.ErrAmountOverflow
	}
	return payout, nil
}

// PreviewWinnings projects what a hypothetical stake on an outcome would
// pay if that outcome won, with both pools grown by the candidate amount
// and the fee taken at feeBps.
func PreviewWinnings(totalPool, outcomePool, candidate, feeBps uint64) (uint64, error) {
	newTotal, err := fpmath.AddChecked(totalPool, candidate)
	if err != nil {
		return 0, domain.ErrAmountOverflow
	}
	newOutcomePool, err := fpmath.AddChecked(outcomePool, candidate)
	if err != nil {
		return 0, domain.ErrAmountOverflow
	}
	fee, err := fpmath.MulDiv(newTotal, feeBps, fpmath.BpsDenominator)
	if err != nil {
		return 0, domain.ErrAmountOverflow
	}
	return WinningsFor(newTotal, newOutcomePool, candidate, fee)
}

// Engine settles claims against the stake ledger and the bank.
type Engine struct {
	stakes *stake.Ledger
	bank   bank.Transfer
}

func NewEngine(stakes *stake.Ledger, b bank.Transfer) *Engine {
	return &Engine{stakes: stakes, bank: b}
}

// ClaimWinnings pays out the caller's stake on the winning outcome of a
// resolved market. The fee figure frozen at resolution time is used, so a
// later fee change never alters an already-resolved market's payouts.
func (e *Engine) ClaimWinnings(m *market.Market, caller string) (uint64, error) {
	if m.State != market.StateResolved || m.WinningOutcome == nil {
		return 0, domain.ErrMarketNotResolved
	}
	winning := *m.WinningOutcome

	pos := e.stakes.Position(caller, m.ID, winning)
	if pos.Amount == 0 {
		return 0, domain.ErrNoWinnings
	}
	if pos.Claimed {
		return 0, domain.ErrAlreadyClaimed
	}

	winnerPool := e.stakes.Pool(m.ID, winning)
	payout, err := WinningsFor(m.TotalPool, winnerPool.TotalStaked, pos.Amount, m.FeeAccrued)
	if err != nil {
		return 0, err
	}

	e.stakes.MarkClaimed(caller, m.ID, winning)
	e.bank.Credit(caller, payout)
	return payout, nil
}

// ClaimRefund returns the caller's unclaimed stake on one outcome of a
// cancelled market, with no fee taken. Each (user, market, outcome)
// position settles independently.
func (e *Engine) ClaimRefund(m *market.Market, caller string, outcome uint64) (uint64, error) {
	if m.State != market.StateCancelled {
		return 0, domain.ErrInvalidMarketState
	}
	if outcome >= uint64(len(m.Outcomes)) {
		return 0, domain.ErrInvalidOutcome
	}

	pos := e.stakes.Position(caller, m.ID, outcome)
	if pos.Amount == 0 {
		return 0, domain.ErrNoWinnings
	}
	if pos.Claimed {
		return 0, domain.ErrAlreadyClaimed
	}

	e.stakes.MarkClaimed(caller, m.ID, outcome)
	e.bank.Credit(caller, pos.Amount)
	return pos.Amount, nil
}
