// Package market holds the market records and the creation invariants of
// the registry.
package market

import (
	"PariLedger/internal/access"
	"PariLedger/internal/domain"
)

const (
	MinOutcomes = 2
	MaxOutcomes = 10
)

// State is the market lifecycle state.
type State uint8

const (
	StateActive State = iota
	StateLocked
	StateResolved
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateLocked:
		return "locked"
	case StateResolved:
		return "resolved"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Market is a single wager event. TotalPool and FeeAccrued are maintained
// by the stake ledger and lifecycle controller.
type Market struct {
	ID               uint64
	Title            string
	Description      string
	Category         string
	Outcomes         []string
	LockHeight       uint64
	ResolutionHeight uint64
	State            State
	TotalPool        uint64
	WinningOutcome   *uint64
	Creator          string
	CreatedHeight    uint64
	FeeAccrued       uint64
}

// Registry owns all markets, keyed by their sequential id.
type Registry struct {
	markets map[uint64]*Market
	order   []uint64
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[uint64]*Market)}
}

// Create validates and registers a new market. Check order matters for the
// error code surfaced: pause, creator role, outcome count, height gates.
func (r *Registry) Create(cfg *access.Config, caller string, height uint64, title, description, category string, outcomes []string, lockHeight, resolutionHeight uint64) (*Market, error) {
	if err := cfg.RequireNotPaused(); err != nil {
		return nil, err
	}
	if err := cfg.RequireCreator(caller); err != nil {
		return nil, err
	}
	if len(outcomes) < MinOutcomes {
		return nil, domain.ErrTooFewOutcomes
	}
	if len(outcomes) > MaxOutcomes {
		return nil, domain.ErrTooManyOutcomes
	}
	if lockHeight <= height {
		return nil, domain.ErrLockNotInFuture
	}
	if lockHeight >= resolutionHeight {
		return nil, domain.ErrLockAfterResolution
	}

	m := &Market{
		ID:               cfg.AllocateMarketID(),
		Title:            title,
		Description:      description,
		Category:         category,
		Outcomes:         append([]string(nil), outcomes...),
		LockHeight:       lockHeight,
		ResolutionHeight: resolutionHeight,
		State:            StateActive,
		Creator:          caller,
		CreatedHeight:    height,
	}
	r.markets[m.ID] = m
	r.order = append(r.order, m.ID)
	return m, nil
}

func (r *Registry) Get(id uint64) (*Market, error) {
	m, ok := r.markets[id]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return m, nil
}

// List returns all markets in creation order.
func (r *Registry) List() []*Market {
	out := make([]*Market, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.markets[id])
	}
	return out
}

func (r *Registry) Count() int {
	return len(r.markets)
}
