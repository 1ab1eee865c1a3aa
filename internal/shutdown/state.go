// Package shutdown coordinates the single, ordered teardown of the
// process: a shared flag that flips exactly once, and a coordinator that
// walks the stop sequence.
package shutdown

import "sync/atomic"

// State is the process-wide shutdown flag. Components that admit new
// work consult it; the coordinator flips it.
type State struct {
	down atomic.Bool
}

func NewState() *State { return &State{} }

// Begin marks shutdown as started. Only the first caller gets true;
// repeat signals are ignored by everyone downstream.
func (s *State) Begin() bool {
	return s.down.CompareAndSwap(false, true)
}

// InProgress reports whether shutdown has started.
func (s *State) InProgress() bool {
	if s == nil {
		return false
	}
	return s.down.Load()
}
