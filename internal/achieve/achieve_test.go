package achieve_test

import (
	"testing"

	"PariLedger/internal/achieve"
)

func milestones(events []achieve.Event) []achieve.Milestone {
	out := make([]achieve.Milestone, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Milestone)
	}
	return out
}

func TestRecordStake_FirstPredictionOnce(t *testing.T) {
	tr := achieve.NewTracker()

	got := milestones(tr.RecordStake("alice", 2_000_000, 0, 50))
	if len(got) != 1 || got[0] != achieve.FirstPrediction {
		t.Errorf("first stake: got %v", got)
	}

	got = milestones(tr.RecordStake("alice", 2_000_000, 0, 51))
	if len(got) != 0 {
		t.Errorf("second stake re-awarded: %v", got)
	}
}

func TestRecordStake_WhaleStrictlyAbove(t *testing.T) {
	tr := achieve.NewTracker()
	tr.RecordStake("alice", 2_000_000, 0, 50)

	got := milestones(tr.RecordStake("alice", achieve.WhaleThreshold, 0, 51))
	if len(got) != 0 {
		t.Errorf("exact threshold awarded whale: %v", got)
	}
	got = milestones(tr.RecordStake("alice", achieve.WhaleThreshold+1, 0, 52))
	if len(got) != 1 || got[0] != achieve.WhaleStake {
		t.Errorf("above threshold: got %v", got)
	}
}

func TestRecordWin_CountMilestones(t *testing.T) {
	tr := achieve.NewTracker()

	for i := 1; i <= 10; i++ {
		got := milestones(tr.RecordWin("alice", 1_000_000, uint64(i), 200))
		switch i {
		case 1:
			if len(got) != 1 || got[0] != achieve.FirstWin {
				t.Errorf("win %d: got %v", i, got)
			}
		case 5:
			if len(got) != 1 || got[0] != achieve.FiveWins {
				t.Errorf("win %d: got %v", i, got)
			}
		case 10:
			if len(got) != 1 || got[0] != achieve.TenWins {
				t.Errorf("win %d: got %v", i, got)
			}
		default:
			if len(got) != 0 {
				t.Errorf("win %d: unexpected %v", i, got)
			}
		}
	}

	stats := tr.StatsFor("alice")
	if stats.WinCount != 10 || stats.TotalWon != 10_000_000 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestRecordWin_EarnedThreshold(t *testing.T) {
	tr := achieve.NewTracker()
	tr.RecordWin("alice", 60_000_000, 0, 200)

	got := milestones(tr.RecordWin("alice", 40_000_000, 1, 201))
	if len(got) != 1 || got[0] != achieve.HundredEarned {
		t.Errorf("got %v, want hundred_earned", got)
	}
}
