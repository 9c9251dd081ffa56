// Package bank provides the value-transfer primitive the settlement
// engine moves stakes and payouts through. The engine only needs two
// guarantees: Debit fails atomically when funds are short, Credit never
// fails for a positive amount.
package bank

import "PariLedger/internal/domain"

// Transfer moves value between user addresses and the engine pot.
type Transfer interface {
	// Debit withdraws amount from addr into the pot. On insufficient
	// balance it returns domain.ErrInsufficientBalance and changes nothing.
	Debit(addr string, amount uint64) error
	// Credit pays amount from the pot to addr. Always succeeds.
	Credit(addr string, amount uint64)
}

// Ledger is the in-memory Transfer used in development and tests.
// Not safe for concurrent use; the deterministic core is single-threaded.
type Ledger struct {
	balances map[string]uint64
	pot      uint64
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]uint64)}
}

// Deposit funds an address out of thin air. Test setup only.
func (l *Ledger) Deposit(addr string, amount uint64) {
	l.balances[addr] += amount
}

func (l *Ledger) Debit(addr string, amount uint64) error {
	if l.balances[addr] < amount {
		return domain.ErrInsufficientBalance
	}
	l.balances[addr] -= amount
	l.pot += amount
	return nil
}

func (l *Ledger) Credit(addr string, amount uint64) {
	if amount > l.pot {
		panic("FATAL: bank pot underflow")
	}
	l.pot -= amount
	l.balances[addr] += amount
}

func (l *Ledger) BalanceOf(addr string) uint64 {
	return l.balances[addr]
}

// PotBalance is the value currently held by the engine itself.
func (l *Ledger) PotBalance() uint64 {
	return l.pot
}

// Mirror is the Transfer used when value custody lives upstream: the funds
// already moved before the operation reached the engine, so Debit never
// fails. The pot still tracks net flow so payout accounting stays checkable.
type Mirror struct {
	pot uint64
}

func NewMirror() *Mirror {
	return &Mirror{}
}

func (m *Mirror) Debit(addr string, amount uint64) error {
	m.pot += amount
	return nil
}

func (m *Mirror) Credit(addr string, amount uint64) {
	if amount > m.pot {
		panic("FATAL: bank pot underflow")
	}
	m.pot -= amount
}

// PotBalance is the value currently held by the engine itself.
func (m *Mirror) PotBalance() uint64 {
	return m.pot
}
