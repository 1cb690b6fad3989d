package metrics

import (
	"testing"
	"time"
)

func newTestCollector(start time.Time) (*HourlyCollector, *time.Time) {
	now := start
	c := NewHourlyCollector()
	c.now = func() time.Time { return now }
	c.hour = start.Truncate(time.Hour)
	c.current = make(map[string]int64)
	return c, &now
}

func TestHourlyCollector_CountsCurrentHour(t *testing.T) {
	c, _ := newTestCollector(time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC))

	c.Increment("auth.magiclink.sent")
	c.Increment("auth.magiclink.sent")
	c.Increment("questionnaire.answered")

	snap := c.Snapshot()
	if snap.CurrentHour["auth.magiclink.sent"] != 2 {
		t.Errorf("sent = %d, want 2", snap.CurrentHour["auth.magiclink.sent"])
	}
	if snap.CurrentHour["questionnaire.answered"] != 1 {
		t.Errorf("answered = %d, want 1", snap.CurrentHour["questionnaire.answered"])
	}
	if len(snap.History) != 0 {
		t.Errorf("history has %d entries, want 0", len(snap.History))
	}
}

func TestHourlyCollector_RollsIntoHistory(t *testing.T) {
	c, now := newTestCollector(time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC))

	c.Increment("requests.api")
	*now = now.Add(time.Hour)
	c.Increment("requests.api")

	snap := c.Snapshot()
	if snap.CurrentHour["requests.api"] != 1 {
		t.Errorf("current = %d, want 1", snap.CurrentHour["requests.api"])
	}
	if len(snap.History) != 1 {
		t.Fatalf("history has %d entries, want 1", len(snap.History))
	}
	if snap.History[0].Metrics["requests.api"] != 1 {
		t.Errorf("history count = %d, want 1", snap.History[0].Metrics["requests.api"])
	}
	if snap.History[0].Hour != "2026-03-01T10:00:00Z" {
		t.Errorf("history hour = %s", snap.History[0].Hour)
	}
}

func TestHourlyCollector_HistoryBounded(t *testing.T) {
	c, now := newTestCollector(time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC))

	for i := 0; i < 48; i++ {
		c.Increment("requests.api")
		*now = now.Add(time.Hour)
	}

	snap := c.Snapshot()
	if len(snap.History) != historyHours {
		t.Errorf("history has %d entries, want %d", len(snap.History), historyHours)
	}
}

func TestHourlyCollector_SnapshotIsCopy(t *testing.T) {
	c, _ := newTestCollector(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	c.Increment("requests.api")
	snap := c.Snapshot()
	snap.CurrentHour["requests.api"] = 999

	if got := c.Snapshot().CurrentHour["requests.api"]; got != 1 {
		t.Errorf("mutating a snapshot leaked into the collector: %d", got)
	}
}
