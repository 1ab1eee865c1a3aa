package metrics

import (
	"sync"
	"sync/atomic"
)

// Registry is a process-wide set of named monotonic counters. Increments
// are fire-and-forget; readers only ever see snapshots. A nil Registry is
// a no-op so callers can leave metrics unwired.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Uint64
}

func New() *Registry {
	return &Registry{counters: make(map[string]*atomic.Uint64)}
}

func (r *Registry) Inc(name string) { r.Add(name, 1) }

func (r *Registry) Add(name string, n uint64) {
	if r == nil || name == "" {
		return
	}
	r.counter(name).Add(n)
}

// Get returns the current value of one counter, zero when absent.
func (r *Registry) Get(name string) uint64 {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	c := r.counters[name]
	r.mu.RUnlock()
	if c == nil {
		return 0
	}
	return c.Load()
}

// Snapshot copies all counters for /status reporting.
func (r *Registry) Snapshot() map[string]uint64 {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.Load()
	}
	return out
}

func (r *Registry) counter(name string) *atomic.Uint64 {
	r.mu.RLock()
	c := r.counters[name]
	r.mu.RUnlock()
	if c != nil {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c = r.counters[name]; c == nil {
		c = new(atomic.Uint64)
		r.counters[name] = c
	}
	return c
}

// Counter names used across the server. Finish reasons and rejection
// causes are appended to the *Prefix names.
const (
	SessionsStarted      = "sessions_started"
	SessionsFinishPrefix = "sessions_finished_"
	RejectedRateLimited  = "rejected_rate_limited"
	RejectedAdmission    = "rejected_admission"
	RejectedRoomCap      = "rejected_room_cap"
	CrashPrefix          = "crash_"
	EgressDropped        = "egress_dropped"
	ShutdownInProgress   = "shutdown_in_progress"
)
