// Package guard holds the gatekeepers that sit in front of the match
// registry: per-IP connection admission and per-connection message rate
// limiting. Room capacity is enforced by the registry itself so the
// check stays atomic with session creation.
package guard

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-match-server/internal/metrics"
)

// CanCreateRoom is the room-capacity predicate. It is pure; the caller
// must hold whatever lock makes its check-then-create atomic.
func CanCreateRoom(current, cap int) bool {
	return current < cap
}

// Admission caps concurrent connections per source IP.
type Admission struct {
	mu       sync.Mutex
	perIP    map[string]int
	maxPerIP int

	log  *zap.Logger
	mets *metrics.Registry
}

func NewAdmission(maxPerIP int, mets *metrics.Registry, log *zap.Logger) *Admission {
	if log == nil {
		log = zap.NewNop()
	}
	return &Admission{
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
		log:      log,
		mets:     mets,
	}
}

// TryAcquire admits one connection from ip, or refuses when the source
// is already at its cap. Every admit must be paired with a Release.
func (a *Admission) TryAcquire(ip string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.perIP[ip] >= a.maxPerIP {
		a.mets.Inc(metrics.RejectedAdmission)
		a.log.Warn("admission_refused",
			zap.String("ip", ip),
			zap.Int("active", a.perIP[ip]),
			zap.Int("cap", a.maxPerIP),
		)
		return false
	}
	a.perIP[ip]++
	return true
}

// Release returns one admission slot for ip.
func (a *Admission) Release(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.perIP[ip]
	if n <= 1 {
		delete(a.perIP, ip)
		return
	}
	a.perIP[ip] = n - 1
}

// Count reports the live connections admitted for ip.
func (a *Admission) Count(ip string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perIP[ip]
}

// Sources reports how many distinct IPs currently hold connections.
func (a *Admission) Sources() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.perIP)
}

// ClientIP strips the port from a remote address. Addresses that do not
// parse are used verbatim so refusal accounting still works.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
