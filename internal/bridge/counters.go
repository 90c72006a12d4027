package bridge

import "sync/atomic"

// Counters tallies orchestrator activity since process start. All fields are
// safe for concurrent use.
type Counters struct {
	Questions        atomic.Int64
	Successes        atomic.Int64
	Failures         atomic.Int64
	PositiveFeedback atomic.Int64
	NegativeFeedback atomic.Int64
}

// NewCounters creates a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{}
}
