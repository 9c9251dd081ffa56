// Package achieve tracks per-user stats and detects milestone crossings.
// Milestones are notifications only; nothing in settlement depends on them.
package achieve

// Milestone identifies an achievement a user has just crossed.
type Milestone string

const (
	FirstPrediction Milestone = "first_prediction"
	WhaleStake      Milestone = "whale_stake"
	FirstWin        Milestone = "first_win"
	FiveWins        Milestone = "five_wins"
	TenWins         Milestone = "ten_wins"
	HundredEarned   Milestone = "hundred_earned"
)

const (
	// WhaleThreshold: a single stake strictly above this is a whale stake.
	WhaleThreshold = 50_000_000
	// EarnedThreshold: cumulative winnings at or above this earn the badge.
	EarnedThreshold = 100_000_000
)

// Stats is one user's lifetime activity.
type Stats struct {
	StakeCount uint64
	WinCount   uint64
	TotalWon   uint64
}

// Event is a milestone crossing, emitted at most once per user.
type Event struct {
	User      string    `json:"user"`
	Milestone Milestone `json:"milestone"`
	MarketID  uint64    `json:"market_id"`
	Height    uint64    `json:"height"`
}

// Tracker detects crossings. Not safe for concurrent use; it lives inside
// the single-threaded engine loop.
type Tracker struct {
	stats   map[string]*Stats
	awarded map[string]map[Milestone]bool
}

func NewTracker() *Tracker {
	return &Tracker{
		stats:   make(map[string]*Stats),
		awarded: make(map[string]map[Milestone]bool),
	}
}

func (t *Tracker) user(addr string) *Stats {
	s, ok := t.stats[addr]
	if !ok {
		s = &Stats{}
		t.stats[addr] = s
	}
	return s
}

func (t *Tracker) award(addr string, m Milestone, marketID, height uint64) *Event {
	got, ok := t.awarded[addr]
	if !ok {
		got = make(map[Milestone]bool)
		t.awarded[addr] = got
	}
	if got[m] {
		return nil
	}
	got[m] = true
	return &Event{User: addr, Milestone: m, MarketID: marketID, Height: height}
}

// RecordStake updates stats after a successful stake and returns any
// milestones crossed.
func (t *Tracker) RecordStake(addr string, amount, marketID, height uint64) []Event {
	s := t.user(addr)
	s.StakeCount++

	var out []Event
	if s.StakeCount == 1 {
		if ev := t.award(addr, FirstPrediction, marketID, height); ev != nil {
			out = append(out, *ev)
		}
	}
	if amount > WhaleThreshold {
		if ev := t.award(addr, WhaleStake, marketID, height); ev != nil {
			out = append(out, *ev)
		}
	}
	return out
}

// RecordWin updates stats after a successful winnings claim.
func (t *Tracker) RecordWin(addr string, payout, marketID, height uint64) []Event {
	s := t.user(addr)
	s.WinCount++
	s.TotalWon += payout

	var out []Event
	if s.WinCount == 1 {
		if ev := t.award(addr, FirstWin, marketID, height); ev != nil {
			out = append(out, *ev)
		}
	}
	if s.WinCount == 5 {
		if ev := t.award(addr, FiveWins, marketID, height); ev != nil {
			out = append(out, *ev)
		}
	}
	if s.WinCount == 10 {
		if ev := t.award(addr, TenWins, marketID, height); ev != nil {
			out = append(out, *ev)
		}
	}
	if s.TotalWon >= EarnedThreshold {
		if ev := t.award(addr, HundredEarned, marketID, height); ev != nil {
			out = append(out, *ev)
		}
	}
	return out
}

// StatsFor returns a copy of a user's stats.
func (t *Tracker) StatsFor(addr string) Stats {
	if s, ok := t.stats[addr]; ok {
		return *s
	}
	return Stats{}
}
