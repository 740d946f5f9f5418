package stream

import "time"

// DefaultUpdateInterval is the minimum spacing between jaw updates
const DefaultUpdateInterval = 20 * time.Millisecond

// RateGate admits at most one event per interval. It is owned by a single
// callback goroutine and is not safe for concurrent use.
type RateGate struct {
	interval time.Duration
	last     time.Time
	primed   bool
}

// NewRateGate creates a gate
func NewRateGate(interval time.Duration) *RateGate {
	return &RateGate{interval: interval}
}

// Allow reports whether an event at now may pass. now should carry a monotonic
// reading, as values from time.Now do.
func (g *RateGate) Allow(now time.Time) bool {
	if g.primed && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	g.primed = true
	return true
}
