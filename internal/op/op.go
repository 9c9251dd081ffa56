// Package op defines the typed operations submitted to the engine and the
// envelope recorded for each one in the op log.
package op

// Kind discriminates operation payloads.
type Kind int32

const (
	KindUnknown Kind = iota
	KindCreateMarket
	KindPlaceStake
	KindLockMarket
	KindResolveMarket
	KindCancelMarket
	KindClaimWinnings
	KindClaimRefund
	KindSetOracle
	KindSetTreasury
	KindSetFee
	KindTogglePause
	KindAuthorizeCreator
)

func (k Kind) String() string {
	switch k {
	case KindCreateMarket:
		return "CreateMarket"
	case KindPlaceStake:
		return "PlaceStake"
	case KindLockMarket:
		return "LockMarket"
	case KindResolveMarket:
		return "ResolveMarket"
	case KindCancelMarket:
		return "CancelMarket"
	case KindClaimWinnings:
		return "ClaimWinnings"
	case KindClaimRefund:
		return "ClaimRefund"
	case KindSetOracle:
		return "SetOracle"
	case KindSetTreasury:
		return "SetTreasury"
	case KindSetFee:
		return "SetFee"
	case KindTogglePause:
		return "TogglePause"
	case KindAuthorizeCreator:
		return "AuthorizeCreator"
	default:
		return "Unknown"
	}
}

// Operation is the interface every submitted operation implements.
type Operation interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// Kind returns the discriminator
	Kind() Kind

	// Caller returns the submitting address
	Caller() string

	// MarketID returns the market context (nil for config operations)
	MarketID() *uint64

	// Height returns the block height the operation executes at.
	// Versioned input — the engine never reads a clock.
	Height() uint64

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64
}

// Base carries the fields shared by every operation.
type Base struct {
	Key         string `json:"idempotency_key"`
	Actor       string `json:"caller"`
	BlockHeight uint64 `json:"height"`
	SourceSeq   int64  `json:"source_sequence"`
}

func (b Base) IdempotencyKey() string { return b.Key }
func (b Base) Caller() string         { return b.Actor }
func (b Base) Height() uint64         { return b.BlockHeight }
func (b Base) SourceSequence() int64  { return b.SourceSeq }

// CreateMarket registers a new market.
type CreateMarket struct {
	Base
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Category         string   `json:"category"`
	Outcomes         []string `json:"outcomes"`
	LockHeight       uint64   `json:"lock_height"`
	ResolutionHeight uint64   `json:"resolution_height"`
}

func (o *CreateMarket) Kind() Kind        { return KindCreateMarket }
func (o *CreateMarket) MarketID() *uint64 { return nil }

// PlaceStake wagers on an outcome of an active market.
type PlaceStake struct {
	Base
	Market  uint64 `json:"market_id"`
	Outcome uint64 `json:"outcome"`
	Amount  uint64 `json:"amount"`
}

func (o *PlaceStake) Kind() Kind        { return KindPlaceStake }
func (o *PlaceStake) MarketID() *uint64 { return &o.Market }

// LockMarket moves an active market to locked.
type LockMarket struct {
	Base
	Market uint64 `json:"market_id"`
}

func (o *LockMarket) Kind() Kind        { return KindLockMarket }
func (o *LockMarket) MarketID() *uint64 { return &o.Market }

// ResolveMarket settles a market on its winning outcome.
type ResolveMarket struct {
	Base
	Market         uint64 `json:"market_id"`
	WinningOutcome uint64 `json:"winning_outcome"`
}

func (o *ResolveMarket) Kind() Kind        { return KindResolveMarket }
func (o *ResolveMarket) MarketID() *uint64 { return &o.Market }

// CancelMarket voids a market so stakes become refundable.
type CancelMarket struct {
	Base
	Market uint64 `json:"market_id"`
}

func (o *CancelMarket) Kind() Kind        { return KindCancelMarket }
func (o *CancelMarket) MarketID() *uint64 { return &o.Market }

// ClaimWinnings pays out the caller's winning stake.
type ClaimWinnings struct {
	Base
	Market uint64 `json:"market_id"`
}

func (o *ClaimWinnings) Kind() Kind        { return KindClaimWinnings }
func (o *ClaimWinnings) MarketID() *uint64 { return &o.Market }

// ClaimRefund returns the caller's stake on one outcome of a cancelled
// market.
type ClaimRefund struct {
	Base
	Market  uint64 `json:"market_id"`
	Outcome uint64 `json:"outcome"`
}

func (o *ClaimRefund) Kind() Kind        { return KindClaimRefund }
func (o *ClaimRefund) MarketID() *uint64 { return &o.Market }

// SetOracle changes the oracle address.
type SetOracle struct {
	Base
	Oracle string `json:"oracle"`
}

func (o *SetOracle) Kind() Kind        { return KindSetOracle }
func (o *SetOracle) MarketID() *uint64 { return nil }

// SetTreasury changes the treasury address.
type SetTreasury struct {
	Base
	Treasury string `json:"treasury"`
}

func (o *SetTreasury) Kind() Kind        { return KindSetTreasury }
func (o *SetTreasury) MarketID() *uint64 { return nil }

// SetFee changes the platform fee.
type SetFee struct {
	Base
	FeeBps uint64 `json:"fee_bps"`
}

func (o *SetFee) Kind() Kind        { return KindSetFee }
func (o *SetFee) MarketID() *uint64 { return nil }

// TogglePause flips the pause flag.
type TogglePause struct {
	Base
}

func (o *TogglePause) Kind() Kind        { return KindTogglePause }
func (o *TogglePause) MarketID() *uint64 { return nil }

// AuthorizeCreator grants or revokes market-creation rights.
type AuthorizeCreator struct {
	Base
	Creator string `json:"creator"`
	Allowed bool   `json:"allowed"`
}

func (o *AuthorizeCreator) Kind() Kind        { return KindAuthorizeCreator }
func (o *AuthorizeCreator) MarketID() *uint64 { return nil }
