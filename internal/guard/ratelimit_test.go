package guard

import (
	"testing"
	"time"

	"github.com/park285/cheese-match-server/internal/metrics"
)

type tickClock struct{ t time.Time }

func newTickClock() *tickClock {
	return &tickClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time          { return c.t }
func (c *tickClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T) (*RateLimiter, *tickClock, *metrics.Registry) {
	t.Helper()
	clk := newTickClock()
	mets := metrics.New()
	l := NewRateLimiter(time.Second, 20, mets, nil)
	l.now = clk.Now
	return l, clk, mets
}

func TestRateLimiterBudgetPerWindow(t *testing.T) {
	l, clk, mets := newTestLimiter(t)

	for i := 0; i < 20; i++ {
		if !l.Allow("c1") { t.Fatalf("message %d refused inside budget", i) }
	}
	if l.Allow("c1") { t.Fatalf("21st message in window allowed") }
	if l.Allow("c1") { t.Fatalf("still inside the exceeded window") }
	if got := mets.Get(metrics.RejectedRateLimited); got != 2 { t.Fatalf("rejected_rate_limited: %d", got) }
	if got := l.Rejections("c1"); got != 2 { t.Fatalf("rejections: %d", got) }

	// Window rollover grants a fresh budget
	clk.Advance(1001 * time.Millisecond)
	if !l.Allow("c1") { t.Fatalf("message refused after rollover") }
	if got := l.Rejections("c1"); got != 0 { t.Fatalf("fresh window should reset rejections: %d", got) }
}

func TestRateLimiterRejectionsDoNotResetWindow(t *testing.T) {
	l, clk, _ := newTestLimiter(t)

	for i := 0; i < 20; i++ {
		if !l.Allow("c1") { t.Fatalf("warmup %d refused", i) }
	}
	// Hammering while blocked must not push the rollover out
	for i := 0; i < 5; i++ {
		clk.Advance(100 * time.Millisecond)
		if l.Allow("c1") { t.Fatalf("flood message %d allowed", i) }
	}
	clk.Advance(600 * time.Millisecond) // past the original window start + 1s
	if !l.Allow("c1") { t.Fatalf("rejections extended the window") }
}

func TestRateLimiterPerConnectionIsolation(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	for i := 0; i < 20; i++ {
		if !l.Allow("c1") { t.Fatalf("c1 %d refused", i) }
	}
	if l.Allow("c1") { t.Fatalf("c1 should be limited") }
	if !l.Allow("c2") { t.Fatalf("c2 limited by c1's traffic") }
}

func TestRateLimiterClearAndSweep(t *testing.T) {
	l, clk, _ := newTestLimiter(t)

	l.Allow("c1")
	l.Allow("c2")
	if l.Tracked() != 2 { t.Fatalf("tracked: %d", l.Tracked()) }

	l.Clear("c1")
	if l.Tracked() != 1 { t.Fatalf("tracked after clear: %d", l.Tracked()) }

	// c2's window expires; c3's stays live
	clk.Advance(2 * time.Second)
	l.Allow("c3")
	l.Sweep()
	if l.Tracked() != 1 { t.Fatalf("tracked after sweep: %d", l.Tracked()) }
	if !l.Allow("c2") { t.Fatalf("swept connection should start a fresh window") }
}
