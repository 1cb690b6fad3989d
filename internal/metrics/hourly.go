package metrics

import (
	"sync"
	"time"
)

// Sink is the increment-counter interface consumed by the auth and question
// flows. Counter names are dotted, e.g. "auth.magiclink.sent". Values are
// aggregates only; a name must never encode an identity.
type Sink interface {
	Increment(name string)
}

// NopSink discards everything. Useful in tests.
type NopSink struct{}

func (NopSink) Increment(string) {}

const historyHours = 24

// HourMetrics is one closed hour of counters.
type HourMetrics struct {
	Hour    string           `json:"hour"`
	Metrics map[string]int64 `json:"metrics"`
}

// Snapshot is the /api/metrics response body.
type Snapshot struct {
	CurrentHour map[string]int64 `json:"currentHour"`
	History     []HourMetrics    `json:"history"`
}

// HourlyCollector keeps a rolling day of counters in process memory. It is
// not durable and not shared across replicas; each process reports its own
// slice of traffic, which is all the product dashboards need.
type HourlyCollector struct {
	mu      sync.Mutex
	current map[string]int64
	hour    time.Time
	history []HourMetrics
	now     func() time.Time
}

func NewHourlyCollector() *HourlyCollector {
	c := &HourlyCollector{now: time.Now}
	c.current = make(map[string]int64)
	c.hour = c.now().Truncate(time.Hour)
	return c
}

func (c *HourlyCollector) Increment(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	c.current[name]++
}

// Snapshot returns the current hour plus up to 24 closed hours.
func (c *HourlyCollector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()

	current := make(map[string]int64, len(c.current))
	for k, v := range c.current {
		current[k] = v
	}
	history := make([]HourMetrics, len(c.history))
	copy(history, c.history)

	return Snapshot{CurrentHour: current, History: history}
}

// rollLocked closes out finished hours. Callers hold c.mu.
func (c *HourlyCollector) rollLocked() {
	hour := c.now().Truncate(time.Hour)
	if hour.Equal(c.hour) {
		return
	}

	if len(c.current) > 0 {
		c.history = append(c.history, HourMetrics{
			Hour:    c.hour.UTC().Format(time.RFC3339),
			Metrics: c.current,
		})
		if len(c.history) > historyHours {
			c.history = c.history[len(c.history)-historyHours:]
		}
	}
	c.current = make(map[string]int64)
	c.hour = hour
}
