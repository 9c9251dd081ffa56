// Package domain defines the coded error taxonomy shared by every
// settlement component. Codes are stable identifiers surfaced to clients,
// so the same stored state and inputs always produce the same code.
package domain

import (
	"errors"
	"fmt"
)

// Code is the numeric identifier carried by every engine error.
type Code uint32

const (
	CodeNotAuthorized       Code = 100
	CodeMarketNotFound      Code = 101
	CodeInvalidMarketState  Code = 102
	CodeInvalidOutcome      Code = 103
	CodeStakeTooLow         Code = 104
	CodeStakeTooHigh        Code = 105
	CodeInsufficientBalance Code = 106
	CodeMarketNotResolved   Code = 107
	CodeNoWinnings          Code = 108
	CodeAlreadyClaimed      Code = 109
	CodeInvalidOracle       Code = 110
	CodeMarketLocked        Code = 111
	CodeNothingStaked       Code = 112
	CodePaused              Code = 113
	CodeInvalidFee          Code = 114
	CodeAmountOverflow      Code = 115
	CodeTooFewOutcomes      Code = 116
	CodeTooManyOutcomes     Code = 117
	CodeLockNotInFuture     Code = 119
	CodeLockAfterResolution Code = 120
	CodeTooEarlyToLock      Code = 121
	CodeTooEarlyToResolve   Code = 122
)

// Error is a deterministic, coded failure. Operations return exactly one
// of the sentinel values below; no operation partially mutates state on
// failure.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("u%d: %s", e.Code, e.Msg)
}

var (
	ErrNotAuthorized       = &Error{CodeNotAuthorized, "caller is not authorized"}
	ErrMarketNotFound      = &Error{CodeMarketNotFound, "market does not exist"}
	ErrInvalidMarketState  = &Error{CodeInvalidMarketState, "operation invalid for market state"}
	ErrInvalidOutcome      = &Error{CodeInvalidOutcome, "outcome index out of range"}
	ErrStakeTooLow         = &Error{CodeStakeTooLow, "stake below minimum"}
	ErrStakeTooHigh        = &Error{CodeStakeTooHigh, "stake above maximum"}
	ErrInsufficientBalance = &Error{CodeInsufficientBalance, "insufficient balance"}
	ErrMarketNotResolved   = &Error{CodeMarketNotResolved, "market is not resolved"}
	ErrNoWinnings          = &Error{CodeNoWinnings, "caller has nothing to claim"}
	ErrAlreadyClaimed      = &Error{CodeAlreadyClaimed, "position already settled"}
	ErrInvalidOracle       = &Error{CodeInvalidOracle, "caller is not the oracle"}
	ErrMarketLocked        = &Error{CodeMarketLocked, "market is past its lock threshold"}
	ErrNothingStaked       = &Error{CodeNothingStaked, "outcome pool is empty"}
	ErrPaused              = &Error{CodePaused, "contract is paused"}
	ErrInvalidFee          = &Error{CodeInvalidFee, "fee above maximum"}
	ErrAmountOverflow      = &Error{CodeAmountOverflow, "amount arithmetic overflow"}
	ErrTooFewOutcomes      = &Error{CodeTooFewOutcomes, "market needs at least 2 outcomes"}
	ErrTooManyOutcomes     = &Error{CodeTooManyOutcomes, "market allows at most 10 outcomes"}
	ErrLockNotInFuture     = &Error{CodeLockNotInFuture, "lock threshold is not in the future"}
	ErrLockAfterResolution = &Error{CodeLockAfterResolution, "lock threshold must precede resolution threshold"}
	ErrTooEarlyToLock      = &Error{CodeTooEarlyToLock, "lock threshold not reached"}
	ErrTooEarlyToResolve   = &Error{CodeTooEarlyToResolve, "resolution threshold not reached"}
)

// CodeOf extracts the engine error code from err, unwrapping as needed.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	return 0, false
}
