// Package crashguard separates the two kinds of uncaught failure: a
// panic on a critical path is fatal (supervisor restarts the process), a
// panic on an isolated goroutine is logged and absorbed.
package crashguard

import (
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-match-server/internal/metrics"
)

// DefaultListenerThreshold mirrors the point where a growing callback
// list usually means a leak rather than a design choice.
const DefaultListenerThreshold = 10

type Guard struct {
	log  *zap.Logger
	mets *metrics.Registry

	// onFatal hooks run before the process exits on a critical panic,
	// e.g. to push a crash report out.
	mu      sync.Mutex
	onFatal []func(origin string, v any)
	exit    func(int)

	listenerThreshold int
}

func New(mets *metrics.Registry, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{
		log:               log,
		mets:              mets,
		exit:              os.Exit,
		listenerThreshold: DefaultListenerThreshold,
	}
}

// OnFatal registers a last-gasp hook for critical panics. Hooks run in
// registration order; a list growing past the threshold is logged, since
// fatal hooks are wired once at startup and should stay countable on one
// hand.
func (g *Guard) OnFatal(fn func(origin string, v any)) {
	g.mu.Lock()
	g.onFatal = append(g.onFatal, fn)
	n := len(g.onFatal)
	g.mu.Unlock()
	g.WarnExcessiveListeners("fatal_hooks", n)
}

func (g *Guard) fatalHooks() []func(origin string, v any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append(([]func(origin string, v any))(nil), g.onFatal...)
}

// Critical runs fn and treats any escaping panic as unrecoverable:
// full context is logged, the crash is counted, and the process exits 1.
func (g *Guard) Critical(origin string, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		g.mets.Inc(metrics.CrashPrefix + "sync")
		g.log.Error("crash_fatal",
			zap.String("origin", origin),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
		for _, hook := range g.fatalHooks() {
			hook(origin, r)
		}
		_ = g.log.Sync()
		g.exit(1)
	}()
	fn()
}

// Go runs fn on its own goroutine with async-failure semantics: a panic
// is logged and counted but never ends the process, on the premise that
// it broke one in-flight operation, not global state.
func (g *Guard) Go(origin string, fn func()) {
	go func() {
		defer g.RecoverAsync(origin)
		fn()
	}()
}

// RecoverAsync is the deferred form of Go's protection, for goroutines
// the caller spawns itself:
//
//	defer guard.RecoverAsync("ws_read")
func (g *Guard) RecoverAsync(origin string) {
	r := recover()
	if r == nil {
		return
	}
	g.mets.Inc(metrics.CrashPrefix + "async")
	g.log.Error("crash_recovered",
		zap.String("origin", origin),
		zap.Any("panic", r),
		zap.Stack("stack"),
	)
}

// WarnExcessiveListeners logs when a callback list grows past the
// threshold. Visibility only; reports whether it warned.
func (g *Guard) WarnExcessiveListeners(scope string, n int) bool {
	if n <= g.listenerThreshold {
		return false
	}
	g.log.Warn("excessive_listeners",
		zap.String("scope", scope),
		zap.Int("count", n),
		zap.Int("threshold", g.listenerThreshold),
	)
	return true
}
