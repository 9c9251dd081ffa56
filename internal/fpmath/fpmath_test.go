package fpmath_test

import (
	"errors"
	"math"
	"testing"

	"PariLedger/internal/fpmath"
)

// ============================================================================
// Test: MulDiv
// ============================================================================

func TestMulDiv_FloorDivision(t *testing.T) {
	// 3_000_000 * 100 / 1_200_000 = 250 exactly
	got, err := fpmath.MulDiv(3_000_000, 100, 1_200_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 250 {
		t.Errorf("got %d, want 250", got)
	}
}

func TestMulDiv_TruncatesRemainder(t *testing.T) {
	// 5_000_000 * 100 / 3_000_000 = 166.66 -> 166
	got, err := fpmath.MulDiv(5_000_000, 100, 3_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 166 {
		t.Errorf("got %d, want 166", got)
	}
}

func TestMulDiv_128BitIntermediate(t *testing.T) {
	// a*b overflows uint64 but the quotient fits.
	a := uint64(math.MaxUint64 / 2)
	got, err := fpmath.MulDiv(a, 1000, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != a {
		t.Errorf("got %d, want %d", got, a)
	}
}

func TestMulDiv_ResultOverflow(t *testing.T) {
	_, err := fpmath.MulDiv(math.MaxUint64, 2, 1)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestMulDiv_DivisionByZero(t *testing.T) {
	_, err := fpmath.MulDiv(1, 1, 0)
	if !errors.Is(err, fpmath.ErrDivisionByZero) {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

// ============================================================================
// Test: AddChecked / SubChecked
// ============================================================================

func TestAddChecked_Normal(t *testing.T) {
	got, err := fpmath.AddChecked(40, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestAddChecked_Wraparound(t *testing.T) {
	_, err := fpmath.AddChecked(math.MaxUint64, 1)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestSubChecked_Underflow(t *testing.T) {
	_, err := fpmath.SubChecked(1, 2)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}
