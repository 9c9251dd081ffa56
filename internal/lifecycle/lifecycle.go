// Package lifecycle drives market state transitions. Lock and resolve are
// oracle-gated and height-gated; cancel is admin-gated. Note the asymmetry
// carried from the production deployment: a non-oracle locking gets the
// generic not-authorized code while a non-oracle resolving gets the
// oracle-specific one.
package lifecycle

import (
	"PariLedger/internal/access"
	"PariLedger/internal/domain"
	"PariLedger/internal/fpmath"
	"PariLedger/internal/market"
)

// Controller applies state transitions against the shared config.
type Controller struct {
	cfg *access.Config
}

func NewController(cfg *access.Config) *Controller {
	return &Controller{cfg: cfg}
}

// Lock moves an active market to locked once its lock height is reached.
func (c *Controller) Lock(m *market.Market, caller string, height uint64) error {
	if err := c.cfg.RequireOracle(caller, domain.ErrNotAuthorized); err != nil {
		return err
	}
	if height < m.LockHeight {
		return domain.ErrTooEarlyToLock
	}
	if m.State != market.StateActive {
		return domain.ErrInvalidMarketState
	}
	m.State = market.StateLocked
	return nil
}

// Resolve settles the market on a winning outcome and freezes the fee
// accrued at this point. Resolving directly from active is permitted; the
// lock step is a convenience, not a prerequisite.
func (c *Controller) Resolve(m *market.Market, caller string, height, winning uint64) error {
	if err := c.cfg.RequireOracle(caller, domain.ErrInvalidOracle); err != nil {
		return err
	}
	if height < m.ResolutionHeight {
		return domain.ErrTooEarlyToResolve
	}
	if m.State != market.StateActive && m.State != market.StateLocked {
		return domain.ErrInvalidMarketState
	}
	if winning >= uint64(len(m.Outcomes)) {
		return domain.ErrInvalidOutcome
	}

	fee, err := fpmath.MulDiv(m.TotalPool, c.cfg.FeeBps, fpmath.BpsDenominator)
	if err != nil {
		return domain.ErrAmountOverflow
	}

	w := winning
	m.WinningOutcome = &w
	m.FeeAccrued = fee
	m.State = market.StateResolved
	return nil
}

// Cancel voids a market so stakers can reclaim their full stakes. Allowed
// from active or locked at any height.
func (c *Controller) Cancel(m *market.Market, caller string) error {
	if err := c.cfg.RequireAdmin(caller); err != nil {
		return err
	}
	if m.State != market.StateActive && m.State != market.StateLocked {
		return domain.ErrInvalidMarketState
	}
	m.State = market.StateCancelled
	return nil
}
