package limiter

import (
	"context"
	"sync"
	"time"
)

// Event records one admission decision for the stats sink.
type Event struct {
	Key     ClientKey
	Allowed bool
	Method  string
	Path    string
	At      time.Time
}

// Recorder receives admission events. Recording is best effort: implementations
// must never block admission, and callers ignore failures beyond a debug log.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Counters is a pair of allow/deny totals.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// MemoryRecorder counts decisions in process memory. It tracks totals only,
// never per-key state, so it cannot grow with the client population.
type MemoryRecorder struct {
	mu    sync.Mutex
	total Counters
}

// NewMemoryRecorder returns an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record tallies one decision.
func (m *MemoryRecorder) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.Allowed {
		m.total.Allowed++
	} else {
		m.total.Denied++
	}
	return nil
}

// Totals returns the accumulated counters.
func (m *MemoryRecorder) Totals() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}
