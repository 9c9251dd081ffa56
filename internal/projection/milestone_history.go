package projection

import (
	"sync"

	"PariLedger/internal/achieve"
)

// MilestoneHistory maintains a queryable in-memory record of awarded
// achievement milestones. Fed from the milestone channel, read by the query
// API, so access is guarded.
type MilestoneHistory struct {
	mu      sync.RWMutex
	entries []achieve.Event
}

func NewMilestoneHistory() *MilestoneHistory {
	return &MilestoneHistory{
		entries: make([]achieve.Event, 0),
	}
}

// Record appends an awarded milestone.
func (h *MilestoneHistory) Record(ev achieve.Event) {
	h.mu.Lock()
	h.entries = append(h.entries, ev)
	h.mu.Unlock()
}

// QueryByUser returns a user's milestones, newest first.
func (h *MilestoneHistory) QueryByUser(user string, limit int) []achieve.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]achieve.Event, 0)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if h.entries[i].User == user {
			result = append(result, h.entries[i])
		}
	}
	return result
}

// Len returns the total number of awarded milestones.
func (h *MilestoneHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
