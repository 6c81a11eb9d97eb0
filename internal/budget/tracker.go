// Package budget tracks code generation spend for a single deployment
// run and enforces the configured cost ceiling.
package budget

import (
	"sync"
	"time"
)

// Entry records one code generation charge attributed to a recommendation.
type Entry struct {
	RecommendationID string
	CostUSD          float64
	Timestamp        time.Time
}

// Tracker accumulates per-run cost. It is safe for concurrent use by all
// pipeline workers. A LimitUSD of zero disables enforcement.
type Tracker struct {
	mu       sync.Mutex
	limitUSD float64
	totalUSD float64
	entries  []Entry
}

// NewTracker creates a tracker with the given cost ceiling in USD.
func NewTracker(limitUSD float64) *Tracker {
	return &Tracker{limitUSD: limitUSD}
}

// Add records a charge against the run.
func (t *Tracker) Add(recommendationID string, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalUSD += costUSD
	t.entries = append(t.entries, Entry{
		RecommendationID: recommendationID,
		CostUSD:          costUSD,
		Timestamp:        time.Now(),
	})
}

// Total returns the cumulative spend so far.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalUSD
}

// Exceeded reports whether the run has spent its budget. Always false
// when no limit is configured.
func (t *Tracker) Exceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limitUSD > 0 && t.totalUSD >= t.limitUSD
}

// Entries returns a copy of the recorded charges, oldest first.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}
