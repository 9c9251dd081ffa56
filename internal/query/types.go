package query

// MarketResponse represents a market for API queries.
type MarketResponse struct {
	MarketID         uint64   `json:"market_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Category         string   `json:"category"`
	Outcomes         []string `json:"outcomes"`
	LockHeight       uint64   `json:"lock_height"`
	ResolutionHeight uint64   `json:"resolution_height"`
	State            string   `json:"state"`
	TotalPool        uint64   `json:"total_pool"`
	WinningOutcome   *uint64  `json:"winning_outcome,omitempty"`
	Creator          string   `json:"creator"`
	CreatedHeight    uint64   `json:"created_height"`
	FeeAccrued       uint64   `json:"fee_accrued"`
	AsOfSequence     int64    `json:"as_of_sequence"`
}

// MarketDisplayResponse bundles a market with its pools and live odds.
type MarketDisplayResponse struct {
	Market       MarketResponse        `json:"market"`
	Pools        []OutcomePoolResponse `json:"pools"`
	AsOfSequence int64                 `json:"as_of_sequence"`
	AsOfHeight   uint64                `json:"as_of_height"`
}

// OutcomePoolResponse represents one outcome's pool for API queries.
type OutcomePoolResponse struct {
	MarketID    uint64 `json:"market_id"`
	Outcome     uint64 `json:"outcome"`
	Label       string `json:"label,omitempty"`
	TotalStaked uint64 `json:"total_staked"`
	StakerCount uint64 `json:"staker_count"`
	// Odds scaled by 100; 0 when the pool is empty
	Odds         uint64 `json:"odds"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// OddsResponse is a standalone odds quote for one outcome.
type OddsResponse struct {
	MarketID    uint64 `json:"market_id"`
	Outcome     uint64 `json:"outcome"`
	TotalPool   uint64 `json:"total_pool"`
	OutcomePool uint64 `json:"outcome_pool"`
	// Odds scaled by 100
	Odds         uint64 `json:"odds"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// StakeResponse represents a user's stake on one outcome.
type StakeResponse struct {
	User         string `json:"user"`
	MarketID     uint64 `json:"market_id"`
	Outcome      uint64 `json:"outcome"`
	Amount       uint64 `json:"amount"`
	FirstHeight  uint64 `json:"first_height"`
	LastHeight   uint64 `json:"last_height"`
	Claimed      bool   `json:"claimed"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// PositionResponse aggregates a user's stakes across a market.
type PositionResponse struct {
	User         string          `json:"user"`
	MarketID     uint64          `json:"market_id"`
	TotalStaked  uint64          `json:"total_staked"`
	FirstOutcome *uint64         `json:"first_outcome,omitempty"`
	Stakes       []StakeResponse `json:"stakes"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// ContractInfoResponse mirrors the platform configuration.
type ContractInfoResponse struct {
	Admin        string `json:"admin"`
	Oracle       string `json:"oracle"`
	Treasury     string `json:"treasury"`
	FeeBps       uint64 `json:"fee_bps"`
	Paused       bool   `json:"paused"`
	NextMarketID uint64 `json:"next_market_id"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// PreviewResponse is a hypothetical payout quote. The candidate stake is
// included in both the outcome pool and the total pool before computing.
type PreviewResponse struct {
	MarketID        uint64 `json:"market_id"`
	Outcome         uint64 `json:"outcome"`
	CandidateAmount uint64 `json:"candidate_amount"`
	ProjectedPayout uint64 `json:"projected_payout"`
	FeeBps          uint64 `json:"fee_bps"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// Markets whose projected total pool disagrees with the sum of its
	// outcome pools
	PoolMismatches []uint64 `json:"pool_mismatches,omitempty"`
}
