package op

// Envelope wraps every applied operation in the op log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Operation kind discriminator
	Kind Kind

	// Submitting address
	Caller string

	// Market context (nullable for config operations)
	MarketID *uint64

	// Block height the operation executed at (versioned input)
	Height uint64

	// Upstream sequence for ordering
	SourceSequence int64

	// JSON-encoded operation payload, replayed on cold start
	Payload []byte

	// JSON-encoded operation result (market id, payout amount, ...)
	Result []byte

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}

// MarketRow is a market projection row touched by an operation.
type MarketRow struct {
	ID               uint64
	Title            string
	Description      string
	Category         string
	Outcomes         []string
	LockHeight       uint64
	ResolutionHeight uint64
	State            string
	TotalPool        uint64
	WinningOutcome   *uint64
	Creator          string
	CreatedHeight    uint64
	FeeAccrued       uint64
}

// PoolRow is an outcome-pool projection row touched by an operation.
type PoolRow struct {
	MarketID    uint64
	Outcome     uint64
	TotalStaked uint64
	StakerCount uint64
}

// StakeRow is a user-stake projection row touched by an operation.
type StakeRow struct {
	User        string
	MarketID    uint64
	Outcome     uint64
	Amount      uint64
	FirstHeight uint64
	LastHeight  uint64
	Claimed     bool
}

// ConfigRow mirrors the contract config singleton.
type ConfigRow struct {
	Admin        string
	Oracle       string
	Treasury     string
	FeeBps       uint64
	Paused       bool
	NextMarketID uint64
}

// StateDelta lists the projection rows an operation touched. Projection
// workers upsert exactly these rows; untouched rows never appear.
type StateDelta struct {
	Markets []MarketRow
	Pools   []PoolRow
	Stakes  []StakeRow
	Config  *ConfigRow
}

// Output pairs an envelope with its state delta on the way to the
// persistence and projection workers.
type Output struct {
	Envelope *Envelope
	Delta    *StateDelta
}
