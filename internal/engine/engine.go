// Package engine is the single-threaded deterministic processor. It owns
// all settlement state and applies one operation at a time: dedup, dispatch,
// invariant post-check, state hash, emit. Replaying the same op log from
// genesis always reproduces the same state and the same hash chain.
package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"PariLedger/internal/access"
	"PariLedger/internal/achieve"
	"PariLedger/internal/bank"
	"PariLedger/internal/domain"
	"PariLedger/internal/lifecycle"
	"PariLedger/internal/market"
	"PariLedger/internal/observability"
	"PariLedger/internal/op"
	"PariLedger/internal/payout"
	"PariLedger/internal/stake"
)

// Engine processes operations against the five settlement components.
type Engine struct {
	sequence     int64
	cfg          *access.Config
	registry     *market.Registry
	stakes       *stake.Ledger
	lifecycle    *lifecycle.Controller
	payouts      *payout.Engine
	bank         bank.Transfer
	achievements *achieve.Tracker
	hasher       *StateHasher
	idempotency  *IdempotencyChecker
	maxHeight    uint64
	metrics      *observability.Metrics

	persistChan    chan<- op.Output
	projectionChan chan<- op.Output
	milestoneChan  chan<- achieve.Event

	// Projection sends block instead of dropping while the projection
	// tables are being repopulated from the op log.
	projectionBlocking bool
}

func NewEngine(
	deployer string,
	startSequence int64,
	lruCapacity int,
	persistChan, projectionChan chan<- op.Output,
	milestoneChan chan<- achieve.Event,
	dbChecker DBIdempotencyChecker,
	transfer bank.Transfer,
	metrics *observability.Metrics,
) *Engine {
	cfg := access.NewConfig(deployer)
	stakes := stake.NewLedger()

	return &Engine{
		sequence:       startSequence,
		cfg:            cfg,
		registry:       market.NewRegistry(),
		stakes:         stakes,
		lifecycle:      lifecycle.NewController(cfg),
		payouts:        payout.NewEngine(stakes, transfer),
		bank:           transfer,
		achievements:   achieve.NewTracker(),
		hasher:         NewStateHasher(),
		idempotency:    NewIdempotencyChecker(lruCapacity, dbChecker, metrics),
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
		milestoneChan:  milestoneChan,
	}
}

// GoLive attaches the output channels and the cold-tier dedup lookup once
// cold replay finishes. All four stay nil during replay: the op log already
// holds every replayed row, and a Postgres dedup hit would skip the very
// operations being replayed.
func (e *Engine) GoLive(
	persistChan, projectionChan chan<- op.Output,
	milestoneChan chan<- achieve.Event,
	dbChecker DBIdempotencyChecker,
) {
	e.persistChan = persistChan
	e.projectionChan = projectionChan
	e.projectionBlocking = false
	e.milestoneChan = milestoneChan
	e.idempotency.dbChecker = dbChecker
}

// ReplayProjections attaches a projection channel for the duration of a cold
// replay that must repopulate the projection tables (first start, or after a
// rebuild). Sends block so no delta is lost; GoLive restores drop semantics.
func (e *Engine) ReplayProjections(ch chan<- op.Output) {
	e.projectionChan = ch
	e.projectionBlocking = true
}

// Process is the main processing pipeline. A returned error means the
// operation was rejected and no state changed; the error always carries a
// domain code.
func (e *Engine) Process(o op.Operation) error {
	start := time.Now()
	kind := o.Kind().String()
	idempotencyKey := o.IdempotencyKey()

	// Step 1: Idempotency check (two-tier). Duplicates are acknowledged
	// and skipped without side effects.
	if e.idempotency.IsDuplicate(kind, idempotencyKey) {
		if e.metrics != nil {
			e.metrics.CoreOpsRejected.WithLabelValues(kind, "duplicate").Inc()
		}
		return nil
	}

	// Step 2: Height tracking. Height is a read-only versioned input; a
	// regression is recorded but the operation still executes at its own
	// height, so replays stay deterministic.
	if o.Height() < e.maxHeight {
		if e.metrics != nil {
			e.metrics.HeightRegressed.Inc()
		}
	} else {
		e.maxHeight = o.Height()
		if e.metrics != nil {
			e.metrics.CoreHeight.Set(float64(e.maxHeight))
		}
	}

	// Step 3: Dispatch
	result, delta, milestones, err := e.dispatch(o)
	if err != nil {
		if e.metrics != nil {
			code := "internal"
			if c, ok := domain.CodeOf(err); ok {
				code = fmt.Sprintf("%d", c)
			}
			e.metrics.CoreOpsRejected.WithLabelValues(kind, code).Inc()
		}
		return err
	}

	// Step 4: Post-apply invariant check
	if err := e.postCheckInvariants(o); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 5: State digest and hash
	hashStart := time.Now()
	stateDigest := computeStateDigest(delta)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)
	if e.metrics != nil {
		e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, _ := json.Marshal(o)
	resultJSON, _ := json.Marshal(result)

	envelope := &op.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: idempotencyKey,
		Kind:           o.Kind(),
		Caller:         o.Caller(),
		MarketID:       o.MarketID(),
		Height:         o.Height(),
		SourceSequence: o.SourceSequence(),
		Payload:        payload,
		Result:         resultJSON,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	e.sequence++

	output := op.Output{Envelope: envelope, Delta: delta}

	// Step 6: Emit. Persist channel uses a BLOCKING send (backpressure);
	// projection channel is non-blocking with silent drop — projections
	// rebuild from the op log if they fall behind. Channels are nil during
	// cold replay; the log already holds these rows.
	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}
	if e.projectionChan != nil {
		if e.projectionBlocking {
			e.projectionChan <- output
		} else {
			select {
			case e.projectionChan <- output:
			default:
				if e.metrics != nil {
					e.metrics.ProjectionDrops.WithLabelValues("state").Inc()
				}
			}
		}
	}

	// Step 7: Milestones are fire-and-forget
	for _, ms := range milestones {
		if e.metrics != nil {
			e.metrics.MilestonesEmitted.WithLabelValues(string(ms.Milestone)).Inc()
		}
		if e.milestoneChan == nil {
			continue
		}
		select {
		case e.milestoneChan <- ms:
		default:
			if e.metrics != nil {
				e.metrics.MilestoneDrops.Inc()
			}
		}
	}

	// Step 8: Mark as processed (add to LRU)
	e.idempotency.MarkProcessed(kind, idempotencyKey)

	if e.metrics != nil {
		e.metrics.CoreOpsApplied.WithLabelValues(kind).Inc()
		e.metrics.CoreOpDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}

	return nil
}

func (e *Engine) dispatch(o op.Operation) (interface{}, *op.StateDelta, []achieve.Event, error) {
	switch t := o.(type) {
	case *op.CreateMarket:
		return e.handleCreateMarket(t)
	case *op.PlaceStake:
		return e.handlePlaceStake(t)
	case *op.LockMarket:
		return e.handleLockMarket(t)
	case *op.ResolveMarket:
		return e.handleResolveMarket(t)
	case *op.CancelMarket:
		return e.handleCancelMarket(t)
	case *op.ClaimWinnings:
		return e.handleClaimWinnings(t)
	case *op.ClaimRefund:
		return e.handleClaimRefund(t)
	case *op.SetOracle:
		return e.handleSetOracle(t)
	case *op.SetTreasury:
		return e.handleSetTreasury(t)
	case *op.SetFee:
		return e.handleSetFee(t)
	case *op.TogglePause:
		return e.handleTogglePause(t)
	case *op.AuthorizeCreator:
		return e.handleAuthorizeCreator(t)
	default:
		return nil, nil, nil, fmt.Errorf("unknown operation type: %T", o)
	}
}

// ============================================================================
// Handlers
// ============================================================================

func (e *Engine) handleCreateMarket(o *op.CreateMarket) (interface{}, *op.StateDelta, []achieve.Event, error) {
	m, err := e.registry.Create(e.cfg, o.Caller(), o.Height(), o.Title, o.Description, o.Category, o.Outcomes, o.LockHeight, o.ResolutionHeight)
	if err != nil {
		return nil, nil, nil, err
	}
	e.stakes.InitPools(m)

	if e.metrics != nil {
		e.metrics.MarketsCreated.Inc()
	}

	delta := &op.StateDelta{
		Markets: []op.MarketRow{e.marketRow(m)},
		Config:  e.configRow(),
	}
	for i := range m.Outcomes {
		delta.Pools = append(delta.Pools, e.poolRow(m.ID, uint64(i)))
	}

	result := struct {
		MarketID uint64 `json:"market_id"`
	}{m.ID}
	return result, delta, nil, nil
}

func (e *Engine) handlePlaceStake(o *op.PlaceStake) (interface{}, *op.StateDelta, []achieve.Event, error) {
	m, err := e.registry.Get(o.Market)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := e.stakes.PlaceStake(e.cfg, e.bank, m, o.Caller(), o.Height(), o.Outcome, o.Amount); err != nil {
		return nil, nil, nil, err
	}

	if e.metrics != nil {
		e.metrics.StakeVolume.WithLabelValues(fmt.Sprintf("%d", m.ID)).Add(float64(o.Amount))
	}

	milestones := e.achievements.RecordStake(o.Caller(), o.Amount, m.ID, o.Height())

	delta := &op.StateDelta{
		Markets: []op.MarketRow{e.marketRow(m)},
		Pools:   []op.PoolRow{e.poolRow(m.ID, o.Outcome)},
		Stakes:  []op.StakeRow{e.stakeRow(o.Caller(), m.ID, o.Outcome)},
	}

	result := struct {
		MarketID uint64 `json:"market_id"`
		Outcome  uint64 `json:"outcome"`
		Amount   uint64 `json:"amount"`
	}{m.ID, o.Outcome, o.Amount}
	return result, delta, milestones, nil
}

func (e *Engine) handleLockMarket(o *op.LockMarket) (interface{}, *op.StateDelta, []achieve.Event, error) {
	m, err := e.registry.Get(o.Market)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := e.lifecycle.Lock(m, o.Caller(), o.Height()); err != nil {
		return nil, nil, nil, err
	}

	delta := &op.StateDelta{Markets: []op.MarketRow{e.marketRow(m)}}
	result := struct {
		MarketID uint64 `json:"market_id"`
		State    string `json:"state"`
	}{m.ID, m.State.String()}
	return result, delta, nil, nil
}

func (e *Engine) handleResolveMarket(o *op.ResolveMarket) (interface{}, *op.StateDelta, []achieve.Event, error) {
	m, err := e.registry.Get(o.Market)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := e.lifecycle.Resolve(m, o.Caller(), o.Height(), o.WinningOutcome); err != nil {
		return nil, nil, nil, err
	}

	if e.metrics != nil {
		e.metrics.FeeAccrued.Add(float64(m.FeeAccrued))
	}

	delta := &op.StateDelta{Markets: []op.MarketRow{e.marketRow(m)}}
	result := struct {
		MarketID       uint64 `json:"market_id"`
		WinningOutcome uint64 `json:"winning_outcome"`
		FeeAccrued     uint64 `json:"fee_accrued"`
	}{m.ID, o.WinningOutcome, m.FeeAccrued}
	return result, delta, nil, nil
}

func (e *Engine) handleCancelMarket(o *op.CancelMarket) (interface{}, *op.StateDelta, []achieve.Event, error) {
	m, err := e.registry.Get(o.Market)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := e.lifecycle.Cancel(m, o.Caller()); err != nil {
		return nil, nil, nil, err
	}

	delta := &op.StateDelta{Markets: []op.MarketRow{e.marketRow(m)}}
	result := struct {
		MarketID uint64 `json:"market_id"`
		State    string `json:"state"`
	}{m.ID, m.State.String()}
	return result, delta, nil, nil
}

func (e *Engine) handleClaimWinnings(o *op.ClaimWinnings) (interface{}, *op.StateDelta, []achieve.Event, error) {
	m, err := e.registry.Get(o.Market)
	if err != nil {
		return nil, nil, nil, err
	}
	amount, err := e.payouts.ClaimWinnings(m, o.Caller())
	if err != nil {
		return nil, nil, nil, err
	}

	if e.metrics != nil {
		e.metrics.PayoutVolume.WithLabelValues("winnings").Add(float64(amount))
	}

	milestones := e.achievements.RecordWin(o.Caller(), amount, m.ID, o.Height())

	delta := &op.StateDelta{
		Stakes: []op.StakeRow{e.stakeRow(o.Caller(), m.ID, *m.WinningOutcome)},
	}
	result := struct {
		MarketID uint64 `json:"market_id"`
		Payout   uint64 `json:"payout"`
	}{m.ID, amount}
	return result, delta, milestones, nil
}

func (e *Engine) handleClaimRefund(o *op.ClaimRefund) (interface{}, *op.StateDelta, []achieve.Event, error) {
	m, err := e.registry.Get(o.Market)
	if err != nil {
		return nil, nil, nil, err
	}
	amount, err := e.payouts.ClaimRefund(m, o.Caller(), o.Outcome)
	if err != nil {
		return nil, nil, nil, err
	}

	if e.metrics != nil {
		e.metrics.PayoutVolume.WithLabelValues("refund").Add(float64(amount))
	}

	delta := &op.StateDelta{
		Stakes: []op.StakeRow{e.stakeRow(o.Caller(), m.ID, o.Outcome)},
	}
	result := struct {
		MarketID uint64 `json:"market_id"`
		Outcome  uint64 `json:"outcome"`
		Refund   uint64 `json:"refund"`
	}{m.ID, o.Outcome, amount}
	return result, delta, nil, nil
}

func (e *Engine) handleSetOracle(o *op.SetOracle) (interface{}, *op.StateDelta, []achieve.Event, error) {
	if err := e.cfg.SetOracle(o.Caller(), o.Oracle); err != nil {
		return nil, nil, nil, err
	}
	return e.configResult(), &op.StateDelta{Config: e.configRow()}, nil, nil
}

func (e *Engine) handleSetTreasury(o *op.SetTreasury) (interface{}, *op.StateDelta, []achieve.Event, error) {
	if err := e.cfg.SetTreasury(o.Caller(), o.Treasury); err != nil {
		return nil, nil, nil, err
	}
	return e.configResult(), &op.StateDelta{Config: e.configRow()}, nil, nil
}

func (e *Engine) handleSetFee(o *op.SetFee) (interface{}, *op.StateDelta, []achieve.Event, error) {
	if err := e.cfg.SetFee(o.Caller(), o.FeeBps); err != nil {
		return nil, nil, nil, err
	}
	return e.configResult(), &op.StateDelta{Config: e.configRow()}, nil, nil
}

func (e *Engine) handleTogglePause(o *op.TogglePause) (interface{}, *op.StateDelta, []achieve.Event, error) {
	if _, err := e.cfg.TogglePause(o.Caller()); err != nil {
		return nil, nil, nil, err
	}
	return e.configResult(), &op.StateDelta{Config: e.configRow()}, nil, nil
}

func (e *Engine) handleAuthorizeCreator(o *op.AuthorizeCreator) (interface{}, *op.StateDelta, []achieve.Event, error) {
	if err := e.cfg.AuthorizeCreator(o.Caller(), o.Creator, o.Allowed); err != nil {
		return nil, nil, nil, err
	}
	result := struct {
		Creator string `json:"creator"`
		Allowed bool   `json:"allowed"`
	}{o.Creator, o.Allowed}
	return result, &op.StateDelta{Config: e.configRow()}, nil, nil
}

func (e *Engine) configResult() access.Info {
	return e.cfg.Info()
}

// ============================================================================
// Rows and digest
// ============================================================================

func (e *Engine) marketRow(m *market.Market) op.MarketRow {
	return op.MarketRow{
		ID:               m.ID,
		Title:            m.Title,
		Description:      m.Description,
		Category:         m.Category,
		Outcomes:         m.Outcomes,
		LockHeight:       m.LockHeight,
		ResolutionHeight: m.ResolutionHeight,
		State:            m.State.String(),
		TotalPool:        m.TotalPool,
		WinningOutcome:   m.WinningOutcome,
		Creator:          m.Creator,
		CreatedHeight:    m.CreatedHeight,
		FeeAccrued:       m.FeeAccrued,
	}
}

func (e *Engine) poolRow(marketID, outcome uint64) op.PoolRow {
	p := e.stakes.Pool(marketID, outcome)
	return op.PoolRow{
		MarketID:    marketID,
		Outcome:     outcome,
		TotalStaked: p.TotalStaked,
		StakerCount: p.StakerCount,
	}
}

func (e *Engine) stakeRow(user string, marketID, outcome uint64) op.StakeRow {
	s := e.stakes.Position(user, marketID, outcome)
	return op.StakeRow{
		User:        user,
		MarketID:    marketID,
		Outcome:     outcome,
		Amount:      s.Amount,
		FirstHeight: s.FirstHeight,
		LastHeight:  s.LastHeight,
		Claimed:     s.Claimed,
	}
}

func (e *Engine) configRow() *op.ConfigRow {
	info := e.cfg.Info()
	return &op.ConfigRow{
		Admin:        info.Admin,
		Oracle:       info.Oracle,
		Treasury:     info.Treasury,
		FeeBps:       info.FeeBps,
		Paused:       info.Paused,
		NextMarketID: info.NextMarketID,
	}
}

// computeStateDigest creates canonical bytes for the state hash: the rows
// the operation touched, in a fixed sort order.
func computeStateDigest(delta *op.StateDelta) []byte {
	if delta == nil {
		return nil
	}

	markets := append([]op.MarketRow(nil), delta.Markets...)
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })

	pools := append([]op.PoolRow(nil), delta.Pools...)
	sort.Slice(pools, func(i, j int) bool {
		if pools[i].MarketID != pools[j].MarketID {
			return pools[i].MarketID < pools[j].MarketID
		}
		return pools[i].Outcome < pools[j].Outcome
	})

	stakes := append([]op.StakeRow(nil), delta.Stakes...)
	sort.Slice(stakes, func(i, j int) bool {
		if stakes[i].User != stakes[j].User {
			return stakes[i].User < stakes[j].User
		}
		if stakes[i].MarketID != stakes[j].MarketID {
			return stakes[i].MarketID < stakes[j].MarketID
		}
		return stakes[i].Outcome < stakes[j].Outcome
	})

	digest := make([]byte, 0, 64*(len(markets)+len(pools)+len(stakes))+64)

	for _, m := range markets {
		digest = appendString(digest, "m")
		digest = appendUint64LE(digest, m.ID)
		digest = appendString(digest, m.State)
		digest = appendUint64LE(digest, m.TotalPool)
		digest = appendUint64LE(digest, m.FeeAccrued)
		if m.WinningOutcome != nil {
			digest = append(digest, 1)
			digest = appendUint64LE(digest, *m.WinningOutcome)
		} else {
			digest = append(digest, 0)
		}
	}
	for _, p := range pools {
		digest = appendString(digest, "p")
		digest = appendUint64LE(digest, p.MarketID)
		digest = appendUint64LE(digest, p.Outcome)
		digest = appendUint64LE(digest, p.TotalStaked)
		digest = appendUint64LE(digest, p.StakerCount)
	}
	for _, s := range stakes {
		digest = appendString(digest, "s")
		digest = appendString(digest, s.User)
		digest = appendUint64LE(digest, s.MarketID)
		digest = appendUint64LE(digest, s.Outcome)
		digest = appendUint64LE(digest, s.Amount)
		if s.Claimed {
			digest = append(digest, 1)
		} else {
			digest = append(digest, 0)
		}
	}
	if c := delta.Config; c != nil {
		digest = appendString(digest, "c")
		digest = appendString(digest, c.Admin)
		digest = appendString(digest, c.Oracle)
		digest = appendString(digest, c.Treasury)
		digest = appendUint64LE(digest, c.FeeBps)
		if c.Paused {
			digest = append(digest, 1)
		} else {
			digest = append(digest, 0)
		}
		digest = appendUint64LE(digest, c.NextMarketID)
	}

	return digest
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, []byte(s)...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after an operation is applied.
func (e *Engine) postCheckInvariants(o op.Operation) error {
	id := o.MarketID()
	if id == nil {
		return nil
	}
	m, err := e.registry.Get(*id)
	if err != nil {
		return nil
	}
	if sum := e.stakes.SumPools(m); sum != m.TotalPool {
		return fmt.Errorf("pool sum %d != market %d total %d (at seq %d)", sum, m.ID, m.TotalPool, e.sequence)
	}
	return nil
}

// ============================================================================
// Startup & read-only accessors
// ============================================================================

// WarmLRU loads recent idempotency keys into the LRU cache so recently
// processed operations skip the cold-path DB lookup.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}

// RestoreChain positions the hash chain and sequence after cold replay
// verification, or on a warm start against a verified op log tip.
func (e *Engine) RestoreChain(sequence int64, stateHash [32]byte) {
	e.sequence = sequence
	e.hasher.SetPrevHash(stateHash)
}

// Sequence returns the next sequence to assign.
func (e *Engine) Sequence() int64 {
	return e.sequence
}

// StateHash returns the current hash chain tip.
func (e *Engine) StateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// Config exposes the contract configuration for read paths and tests.
func (e *Engine) Config() *access.Config {
	return e.cfg
}

// Markets exposes the market registry for read paths and tests.
func (e *Engine) Markets() *market.Registry {
	return e.registry
}

// Stakes exposes the stake ledger for read paths and tests.
func (e *Engine) Stakes() *stake.Ledger {
	return e.stakes
}

// Achievements exposes per-user stats for read paths and tests.
func (e *Engine) Achievements() *achieve.Tracker {
	return e.achievements
}
