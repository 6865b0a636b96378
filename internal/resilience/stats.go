package resilience

import (
	"sync"
	"time"
)

// OpStats is a read-only snapshot of one operation's counters.
type OpStats struct {
	// Attempts counts individual tries, retries included.
	Attempts uint64

	// Successes and Failures count completed operations.
	Successes uint64
	Failures  uint64

	// Rejections counts calls short-circuited by the breaker.
	Rejections uint64

	// CumulativeLatency is the summed wall time of completed operations,
	// backoff sleeps included.
	CumulativeLatency time.Duration
}

// opStats is the mutable counterpart behind OpStats.
type opStats struct {
	mu sync.Mutex
	s  OpStats
}

func (o *opStats) attempt() {
	o.mu.Lock()
	o.s.Attempts++
	o.mu.Unlock()
}

func (o *opStats) success(latency time.Duration) {
	o.mu.Lock()
	o.s.Successes++
	o.s.CumulativeLatency += latency
	o.mu.Unlock()
}

func (o *opStats) failure(latency time.Duration) {
	o.mu.Lock()
	o.s.Failures++
	o.s.CumulativeLatency += latency
	o.mu.Unlock()
}

func (o *opStats) rejection() {
	o.mu.Lock()
	o.s.Rejections++
	o.mu.Unlock()
}

func (o *opStats) snapshot() OpStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.s
}

// opStats returns the counter record for op, creating it on first use.
func (e *Executor) opStats(op string) *opStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	st, ok := e.stats[op]
	if !ok {
		st = &opStats{}
		e.stats[op] = st
	}
	return st
}

// Stats returns a snapshot of all per-operation counters.
func (e *Executor) Stats() map[string]OpStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := make(map[string]OpStats, len(e.stats))
	for op, st := range e.stats {
		out[op] = st.snapshot()
	}
	return out
}
