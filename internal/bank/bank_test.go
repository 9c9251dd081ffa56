package bank_test

import (
	"errors"
	"testing"

	"PariLedger/internal/bank"
	"PariLedger/internal/domain"
)

func TestLedger_DebitMovesToPot(t *testing.T) {
	l := bank.NewLedger()
	l.Deposit("alice", 5_000_000)

	if err := l.Debit("alice", 2_000_000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := l.BalanceOf("alice"); got != 3_000_000 {
		t.Errorf("balance: got %d, want 3_000_000", got)
	}
	if got := l.PotBalance(); got != 2_000_000 {
		t.Errorf("pot: got %d, want 2_000_000", got)
	}
}

func TestLedger_DebitInsufficientIsAtomic(t *testing.T) {
	l := bank.NewLedger()
	l.Deposit("alice", 100)

	err := l.Debit("alice", 200)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if got := l.BalanceOf("alice"); got != 100 {
		t.Errorf("balance changed on failed debit: got %d", got)
	}
	if got := l.PotBalance(); got != 0 {
		t.Errorf("pot changed on failed debit: got %d", got)
	}
}

func TestLedger_CreditFromPot(t *testing.T) {
	l := bank.NewLedger()
	l.Deposit("alice", 1_000)
	if err := l.Debit("alice", 1_000); err != nil {
		t.Fatalf("debit: %v", err)
	}

	l.Credit("bob", 400)
	if got := l.BalanceOf("bob"); got != 400 {
		t.Errorf("bob: got %d, want 400", got)
	}
	if got := l.PotBalance(); got != 600 {
		t.Errorf("pot: got %d, want 600", got)
	}
}

func TestMirror_DebitNeverFails(t *testing.T) {
	m := bank.NewMirror()

	if err := m.Debit("alice", 7_000_000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.PotBalance(); got != 7_000_000 {
		t.Errorf("pot: got %d, want 7_000_000", got)
	}

	m.Credit("alice", 3_000_000)
	if got := m.PotBalance(); got != 4_000_000 {
		t.Errorf("pot after credit: got %d, want 4_000_000", got)
	}
}
