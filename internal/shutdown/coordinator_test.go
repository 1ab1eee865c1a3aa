package shutdown

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-match-server/internal/metrics"
)

// harness wires a coordinator with fake sleep/exit and records the order
// of everything it touches.
type harness struct {
	mu       sync.Mutex
	order    []string
	live     int
	exitCode *int
	slept    time.Duration
	co       *Coordinator
}

func newHarness(t *testing.T, live int, cleanupErr error) *harness {
	t.Helper()
	h := &harness{live: live}
	hooks := Hooks{
		StopAccepting: func() { h.record("stop_accepting") },
		Notify:        func() { h.record("notify") },
		Cleanup: func() error {
			h.record("cleanup")
			return cleanupErr
		},
		LiveCount: func() int {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.live
		},
		CloseAll: func() { h.record("close_all") },
	}
	h.co = NewCoordinator(NewState(), hooks, 15*time.Second, 500*time.Millisecond, metrics.New(), nil)
	h.co.sleep = func(d time.Duration) {
		h.mu.Lock()
		h.slept += d
		if h.live > 0 { h.live-- } // one client leaves per poll
		h.mu.Unlock()
	}
	h.co.exit = func(code int) {
		h.record("exit")
		h.mu.Lock()
		h.exitCode = &code
		h.mu.Unlock()
	}
	return h
}

func (h *harness) record(step string) {
	h.mu.Lock()
	h.order = append(h.order, step)
	h.mu.Unlock()
}

func TestShutdownSequenceAndExitZero(t *testing.T) {
	h := newHarness(t, 3, nil)
	h.co.Shutdown("SIGTERM")

	want := []string{"stop_accepting", "notify", "cleanup", "close_all", "exit"}
	if len(h.order) != len(want) { t.Fatalf("steps: %v", h.order) }
	for i, step := range want {
		if h.order[i] != step { t.Fatalf("step %d = %q, want %q (%v)", i, h.order[i], step, h.order) }
	}
	if h.exitCode == nil || *h.exitCode != 0 { t.Fatalf("exit code: %v", h.exitCode) }
	// Three clients, one leaves per 500ms poll
	if h.slept != 1500*time.Millisecond { t.Fatalf("drain slept %v", h.slept) }
}

func TestShutdownRepeatTriggerIgnored(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.co.Shutdown("SIGTERM")
	first := len(h.order)
	h.co.Shutdown("SIGINT")
	if len(h.order) != first { t.Fatalf("second trigger re-ran the sequence: %v", h.order) }
}

func TestShutdownCleanupFailureNotFatal(t *testing.T) {
	h := newHarness(t, 0, errors.New("flush failed"))
	h.co.Shutdown("test")
	if h.exitCode == nil || *h.exitCode != 0 {
		t.Fatalf("cleanup failure must not change the exit path: %v", h.exitCode)
	}
}

func TestShutdownDrainTimeout(t *testing.T) {
	h := newHarness(t, 1, nil)
	// Client never leaves
	h.co.sleep = func(d time.Duration) {
		h.mu.Lock()
		h.slept += d
		h.mu.Unlock()
	}
	h.co.Shutdown("test")

	if h.slept != 15*time.Second { t.Fatalf("drain waited %v, want full timeout", h.slept) }
	if h.exitCode == nil || *h.exitCode != 0 { t.Fatalf("timeout still exits 0: %v", h.exitCode) }
	// Forced close still ran
	found := false
	for _, s := range h.order {
		if s == "close_all" { found = true }
	}
	if !found { t.Fatalf("close_all skipped: %v", h.order) }
}

func TestStateSingleShot(t *testing.T) {
	st := NewState()
	if st.InProgress() { t.Fatalf("fresh state already in progress") }
	if !st.Begin() { t.Fatalf("first Begin refused") }
	if st.Begin() { t.Fatalf("second Begin accepted") }
	if !st.InProgress() { t.Fatalf("state not in progress after Begin") }
	var nilState *State
	if nilState.InProgress() { t.Fatalf("nil state should read false") }
}
