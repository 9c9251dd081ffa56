// Package fpmath provides integer pool arithmetic with 128-bit
// intermediates. All derived values use floor division; overflow of the
// uint64 result range is reported, never wrapped.
package fpmath

import (
	"errors"
	"math/big"
	"sync"
)

const (
	// OddsScale scales inverse odds: odds = floor(total * OddsScale / pool).
	OddsScale = 100
	// BpsDenominator converts basis points to a fraction.
	BpsDenominator = 10_000
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrOverflow       = errors.New("result exceeds uint64 range")
)

// int128Pool holds big.Ints reused for intermediate products.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MulDiv computes floor(a * b / den) with a 128-bit intermediate product.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivisionByZero
	}

	product := getInt128()
	defer putInt128(product)

	product.Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	product.Quo(product, new(big.Int).SetUint64(den))

	if !product.IsUint64() {
		return 0, ErrOverflow
	}
	return product.Uint64(), nil
}

// AddChecked returns a + b or ErrOverflow on uint64 wraparound.
func AddChecked(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SubChecked returns a - b or ErrOverflow when b > a.
func SubChecked(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}
