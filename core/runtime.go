package core

import (
	"sync"

	"llm-trading-arena/ledger"
	"llm-trading-arena/models"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MODEL RUNTIME - One competitor: adapter + ledger + counters
// ═══════════════════════════════════════════════════════════════════════════════

// ModelRuntime pairs a decision adapter with its paper account and tracks
// per-model session stats.
type ModelRuntime struct {
	Adapter models.Adapter
	Ledger  *ledger.Ledger

	mu             sync.Mutex
	decisions      int
	errors         int
	totalLatencyMS int64
	latencyCount   int
	lastError      string
}

// NewModelRuntime creates a runtime for one competitor
func NewModelRuntime(adapter models.Adapter, l *ledger.Ledger) *ModelRuntime {
	return &ModelRuntime{Adapter: adapter, Ledger: l}
}

// ID returns the model identifier.
func (r *ModelRuntime) ID() string { return r.Adapter.ID() }

// RecordBundle counts a successful round reply.
func (r *ModelRuntime) RecordBundle(decisions int, latencyMS int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.decisions += decisions
	if latencyMS > 0 {
		r.totalLatencyMS += latencyMS
		r.latencyCount++
	}
}

// RecordError counts a failed round.
func (r *ModelRuntime) RecordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors++
	if err != nil {
		r.lastError = err.Error()
	}
}

// Stats returns decision/error counters and the average reply latency.
func (r *ModelRuntime) Stats() (decisions, errors int, avgLatencyMS int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	avg := int64(0)
	if r.latencyCount > 0 {
		avg = r.totalLatencyMS / int64(r.latencyCount)
	}
	return r.decisions, r.errors, avg
}

// LastError returns the most recent failure message, empty when clean.
func (r *ModelRuntime) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}
