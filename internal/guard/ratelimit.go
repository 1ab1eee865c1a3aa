package guard

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-match-server/internal/metrics"
)

// limitEntry is one connection's current window. A fresh window replaces
// it wholesale when the old one expires; rejections never reset it, so a
// flooding client stays blocked until rollover.
type limitEntry struct {
	count    int
	resetAt  time.Time
	rejected uint64
}

// RateLimiter throttles inbound messages per connection on a rolling
// fixed window. Entries for dead connections are cleared explicitly on
// disconnect or collected by the periodic sweep.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limitEntry

	window time.Duration
	max    int

	now  func() time.Time
	log  *zap.Logger
	mets *metrics.Registry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewRateLimiter(window time.Duration, max int, mets *metrics.Registry, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{
		entries: make(map[string]*limitEntry),
		window:  window,
		max:     max,
		log:     log,
		mets:    mets,
		now:     time.Now,
	}
}

// Allow records one message for id and reports whether it may proceed.
func (l *RateLimiter) Allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowAt := l.now()
	e := l.entries[id]
	if e == nil || !nowAt.Before(e.resetAt) {
		l.entries[id] = &limitEntry{count: 1, resetAt: nowAt.Add(l.window)}
		return true
	}

	e.count++
	if e.count > l.max {
		e.rejected++
		l.mets.Inc(metrics.RejectedRateLimited)
		if e.rejected == 1 {
			l.log.Warn("rate_limited",
				zap.String("conn_id", id),
				zap.Int("max", l.max),
				zap.Duration("window", l.window),
			)
		}
		return false
	}
	return true
}

// Rejections reports how many messages from id were refused in its
// current window.
func (l *RateLimiter) Rejections(id string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.entries[id]; e != nil {
		return e.rejected
	}
	return 0
}

// Clear forgets id entirely. Called when its connection goes away.
func (l *RateLimiter) Clear(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
}

// Tracked reports how many entries are held.
func (l *RateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Start launches the periodic sweep for expired windows.
func (l *RateLimiter) Start(every time.Duration) {
	l.stopCh = make(chan struct{})
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-l.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine.
func (l *RateLimiter) Stop() {
	if l.stopCh == nil {
		return
	}
	close(l.stopCh)
	l.wg.Wait()
	l.stopCh = nil
}

// Sweep drops every expired window. An expired entry is by definition
// untouched, since any message on it would have started a fresh window.
func (l *RateLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	nowAt := l.now()
	removed := 0
	for id, e := range l.entries {
		if !nowAt.Before(e.resetAt) {
			delete(l.entries, id)
			removed++
		}
	}
	if removed > 0 {
		l.log.Debug("rate_limiter_sweep",
			zap.Int("removed", removed),
			zap.Int("tracked", len(l.entries)),
		)
	}
}
