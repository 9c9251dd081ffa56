package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"PariLedger/internal/domain"
	"PariLedger/internal/payout"
)

// QueryService provides read-only access to the projection tables. Queries
// are served over HTTP/JSON, reading PostgreSQL projections only — never the
// engine's in-memory state. Every response carries as_of_sequence so callers
// can reason about freshness.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetMarket returns a single market by id.
func (qs *QueryService) GetMarket(ctx context.Context, marketID uint64) (*MarketResponse, error) {
	asOfSeq, _, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	m, err := qs.scanMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	m.AsOfSequence = asOfSeq
	return m, nil
}

// ListMarkets returns markets in creation order with cursor pagination.
// A nil state filter returns every market.
func (qs *QueryService) ListMarkets(ctx context.Context, state *string, limit int, afterID *uint64) ([]MarketResponse, error) {
	asOfSeq, _, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT market_id, title, description, category, outcomes, lock_height,
		       resolution_height, state, total_pool, winning_outcome, creator,
		       created_height, fee_accrued
		FROM projections.markets
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if state != nil {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, *state)
		argIdx++
	}
	if afterID != nil {
		query += fmt.Sprintf(" AND market_id > $%d", argIdx)
		args = append(args, int64(*afterID))
		argIdx++
	}

	query += " ORDER BY market_id ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []MarketResponse
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, err
		}
		m.AsOfSequence = asOfSeq
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

// GetMarketDisplay returns a market with its outcome pools and live odds,
// ready for a market page render.
func (qs *QueryService) GetMarketDisplay(ctx context.Context, marketID uint64) (*MarketDisplayResponse, error) {
	asOfSeq, asOfHeight, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	m, err := qs.scanMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	m.AsOfSequence = asOfSeq

	pools, err := qs.poolsForMarket(ctx, marketID, m.TotalPool, m.Outcomes, asOfSeq)
	if err != nil {
		return nil, err
	}

	return &MarketDisplayResponse{
		Market:       *m,
		Pools:        pools,
		AsOfSequence: asOfSeq,
		AsOfHeight:   asOfHeight,
	}, nil
}

// GetOutcomePool returns one outcome's pool with its current odds.
func (qs *QueryService) GetOutcomePool(ctx context.Context, marketID, outcome uint64) (*OutcomePoolResponse, error) {
	asOfSeq, _, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	m, err := qs.scanMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if outcome >= uint64(len(m.Outcomes)) {
		return nil, domain.ErrInvalidOutcome
	}

	p := OutcomePoolResponse{
		MarketID:     marketID,
		Outcome:      outcome,
		Label:        m.Outcomes[outcome],
		AsOfSequence: asOfSeq,
	}

	var staked, count int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT total_staked, staker_count
		FROM projections.outcome_pools
		WHERE market_id = $1 AND outcome = $2
	`, int64(marketID), int64(outcome)).Scan(&staked, &count)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	p.TotalStaked = uint64(staked)
	p.StakerCount = uint64(count)

	if odds, err := payout.Odds(m.TotalPool, p.TotalStaked); err == nil {
		p.Odds = odds
	}
	return &p, nil
}

// GetOdds returns the current odds for one outcome, scaled by 100. Unlike
// the pool read, an empty outcome pool is an error here: there are no odds
// to quote until somebody stakes.
func (qs *QueryService) GetOdds(ctx context.Context, marketID, outcome uint64) (*OddsResponse, error) {
	asOfSeq, _, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	m, err := qs.scanMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if outcome >= uint64(len(m.Outcomes)) {
		return nil, domain.ErrInvalidOutcome
	}

	var staked int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT total_staked FROM projections.outcome_pools
		WHERE market_id = $1 AND outcome = $2
	`, int64(marketID), int64(outcome)).Scan(&staked)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	odds, err := payout.Odds(m.TotalPool, uint64(staked))
	if err != nil {
		return nil, err
	}

	return &OddsResponse{
		MarketID:     marketID,
		Outcome:      outcome,
		TotalPool:    m.TotalPool,
		OutcomePool:  uint64(staked),
		Odds:         odds,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetUserStake returns a user's stake on one outcome. A user who never
// staked there gets a zero-amount row, matching on-chain read semantics.
func (qs *QueryService) GetUserStake(ctx context.Context, user string, marketID, outcome uint64) (*StakeResponse, error) {
	asOfSeq, _, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	s := StakeResponse{
		User:         user,
		MarketID:     marketID,
		Outcome:      outcome,
		AsOfSequence: asOfSeq,
	}

	var amount, firstH, lastH int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT amount, first_height, last_height, claimed
		FROM projections.user_stakes
		WHERE user_addr = $1 AND market_id = $2 AND outcome = $3
	`, user, int64(marketID), int64(outcome)).Scan(&amount, &firstH, &lastH, &s.Claimed)
	if err == sql.ErrNoRows {
		return &s, nil
	}
	if err != nil {
		return nil, err
	}

	s.Amount = uint64(amount)
	s.FirstHeight = uint64(firstH)
	s.LastHeight = uint64(lastH)
	return &s, nil
}

// GetUserPosition aggregates a user's stakes across every outcome of a
// market. FirstOutcome is the lowest-numbered outcome the user staked on.
func (qs *QueryService) GetUserPosition(ctx context.Context, user string, marketID uint64) (*PositionResponse, error) {
	asOfSeq, _, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT outcome, amount, first_height, last_height, claimed
		FROM projections.user_stakes
		WHERE user_addr = $1 AND market_id = $2
		ORDER BY outcome ASC
	`, user, int64(marketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pos := PositionResponse{
		User:         user,
		MarketID:     marketID,
		AsOfSequence: asOfSeq,
	}

	for rows.Next() {
		var outcome, amount, firstH, lastH int64
		var claimed bool
		if err := rows.Scan(&outcome, &amount, &firstH, &lastH, &claimed); err != nil {
			return nil, err
		}
		if amount == 0 {
			continue
		}
		if pos.FirstOutcome == nil {
			o := uint64(outcome)
			pos.FirstOutcome = &o
		}
		pos.TotalStaked += uint64(amount)
		pos.Stakes = append(pos.Stakes, StakeResponse{
			User:         user,
			MarketID:     marketID,
			Outcome:      uint64(outcome),
			Amount:       uint64(amount),
			FirstHeight:  uint64(firstH),
			LastHeight:   uint64(lastH),
			Claimed:      claimed,
			AsOfSequence: asOfSeq,
		})
	}
	return &pos, rows.Err()
}

// GetContractInfo returns the platform configuration singleton.
func (qs *QueryService) GetContractInfo(ctx context.Context) (*ContractInfoResponse, error) {
	asOfSeq, _, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	info := ContractInfoResponse{AsOfSequence: asOfSeq}
	var feeBps, nextID int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT admin, oracle, treasury, fee_bps, paused, next_market_id
		FROM projections.contract_config
		WHERE singleton = TRUE
	`).Scan(&info.Admin, &info.Oracle, &info.Treasury, &feeBps, &info.Paused, &nextID)
	if err == sql.ErrNoRows {
		return &info, nil
	}
	if err != nil {
		return nil, err
	}
	info.FeeBps = uint64(feeBps)
	info.NextMarketID = uint64(nextID)
	return &info, nil
}

// PreviewWinnings quotes the hypothetical payout for a candidate stake on an
// unresolved market, at the current platform fee.
func (qs *QueryService) PreviewWinnings(ctx context.Context, marketID, outcome, amount uint64) (*PreviewResponse, error) {
	asOfSeq, _, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	m, err := qs.scanMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if outcome >= uint64(len(m.Outcomes)) {
		return nil, domain.ErrInvalidOutcome
	}

	cfg, err := qs.GetContractInfo(ctx)
	if err != nil {
		return nil, err
	}

	var staked int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT total_staked FROM projections.outcome_pools
		WHERE market_id = $1 AND outcome = $2
	`, int64(marketID), int64(outcome)).Scan(&staked)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	projected, err := payout.PreviewWinnings(m.TotalPool, uint64(staked), amount, cfg.FeeBps)
	if err != nil {
		return nil, err
	}

	return &PreviewResponse{
		MarketID:        marketID,
		Outcome:         outcome,
		CandidateAmount: amount,
		ProjectedPayout: projected,
		FeeBps:          cfg.FeeBps,
		AsOfSequence:    asOfSeq,
	}, nil
}

// VerifyIntegrity checks hash chain continuity in the op log and pool-sum
// consistency across the projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT o1.sequence
		FROM settlement.ops o1
		LEFT JOIN settlement.ops o2 ON o2.sequence = o1.sequence - 1
		WHERE o1.sequence > 0 AND o1.prev_hash != COALESCE(o2.state_hash, o1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	poolRows, err := qs.db.QueryContext(ctx, `
		SELECT m.market_id
		FROM projections.markets m
		LEFT JOIN (
			SELECT market_id, SUM(total_staked) AS staked
			FROM projections.outcome_pools
			GROUP BY market_id
		) p ON p.market_id = m.market_id
		WHERE m.total_pool != COALESCE(p.staked, 0)
	`)
	if err != nil {
		return nil, err
	}
	defer poolRows.Close()

	for poolRows.Next() {
		var id int64
		if err := poolRows.Scan(&id); err != nil {
			return nil, err
		}
		report.PoolMismatches = append(report.PoolMismatches, uint64(id))
	}
	if err := poolRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.PoolMismatches) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, uint64, error) {
	var seq, height int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0), COALESCE(last_height, 0)
		FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq, &height)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return seq, uint64(height), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMarketRow(row rowScanner) (*MarketResponse, error) {
	var m MarketResponse
	var id, lockH, resH, totalPool, createdH, feeAccrued int64
	var winning sql.NullInt64
	var outcomes pq.StringArray

	if err := row.Scan(
		&id, &m.Title, &m.Description, &m.Category, &outcomes, &lockH,
		&resH, &m.State, &totalPool, &winning, &m.Creator, &createdH, &feeAccrued,
	); err != nil {
		return nil, err
	}

	m.MarketID = uint64(id)
	m.Outcomes = outcomes
	m.LockHeight = uint64(lockH)
	m.ResolutionHeight = uint64(resH)
	m.TotalPool = uint64(totalPool)
	m.CreatedHeight = uint64(createdH)
	m.FeeAccrued = uint64(feeAccrued)
	if winning.Valid {
		w := uint64(winning.Int64)
		m.WinningOutcome = &w
	}
	return &m, nil
}

func (qs *QueryService) scanMarket(ctx context.Context, marketID uint64) (*MarketResponse, error) {
	row := qs.db.QueryRowContext(ctx, `
		SELECT market_id, title, description, category, outcomes, lock_height,
		       resolution_height, state, total_pool, winning_outcome, creator,
		       created_height, fee_accrued
		FROM projections.markets
		WHERE market_id = $1
	`, int64(marketID))

	m, err := scanMarketRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrMarketNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (qs *QueryService) poolsForMarket(ctx context.Context, marketID, totalPool uint64, labels []string, asOfSeq int64) ([]OutcomePoolResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT outcome, total_staked, staker_count
		FROM projections.outcome_pools
		WHERE market_id = $1
		ORDER BY outcome ASC
	`, int64(marketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	staked := make(map[uint64]OutcomePoolResponse)
	for rows.Next() {
		var outcome, amount, count int64
		if err := rows.Scan(&outcome, &amount, &count); err != nil {
			return nil, err
		}
		staked[uint64(outcome)] = OutcomePoolResponse{
			TotalStaked: uint64(amount),
			StakerCount: uint64(count),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Emit a row per declared outcome, zero-filled when nobody staked yet.
	pools := make([]OutcomePoolResponse, 0, len(labels))
	for i, label := range labels {
		p := staked[uint64(i)]
		p.MarketID = marketID
		p.Outcome = uint64(i)
		p.Label = label
		p.AsOfSequence = asOfSeq
		if odds, err := payout.Odds(totalPool, p.TotalStaked); err == nil {
			p.Odds = odds
		}
		pools = append(pools, p)
	}
	return pools, nil
}
