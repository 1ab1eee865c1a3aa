package guard

import (
	"testing"

	"github.com/park285/cheese-match-server/internal/metrics"
)

func TestCanCreateRoom(t *testing.T) {
	if !CanCreateRoom(0, 500) { t.Fatalf("empty registry refused") }
	if !CanCreateRoom(499, 500) { t.Fatalf("last slot refused") }
	if CanCreateRoom(500, 500) { t.Fatalf("full registry admitted") }
}

func TestAdmissionPerIPCap(t *testing.T) {
	mets := metrics.New()
	a := NewAdmission(3, mets, nil)

	for i := 0; i < 3; i++ {
		if !a.TryAcquire("10.0.0.1") { t.Fatalf("admit %d refused", i) }
	}
	if a.TryAcquire("10.0.0.1") { t.Fatalf("4th connection admitted past cap") }
	if got := mets.Get(metrics.RejectedAdmission); got != 1 { t.Fatalf("rejected_admission: %d", got) }

	// Other sources are unaffected
	if !a.TryAcquire("10.0.0.2") { t.Fatalf("independent ip refused") }

	// Releasing frees a slot
	a.Release("10.0.0.1")
	if !a.TryAcquire("10.0.0.1") { t.Fatalf("slot not freed after release") }
}

func TestAdmissionReleaseDropsEmptySources(t *testing.T) {
	a := NewAdmission(10, nil, nil)
	a.TryAcquire("10.0.0.1")
	a.TryAcquire("10.0.0.1")
	if a.Sources() != 1 || a.Count("10.0.0.1") != 2 { t.Fatalf("count: %d sources: %d", a.Count("10.0.0.1"), a.Sources()) }
	a.Release("10.0.0.1")
	a.Release("10.0.0.1")
	if a.Sources() != 0 { t.Fatalf("empty source kept: %d", a.Sources()) }
	// Release of an unknown ip is harmless
	a.Release("10.9.9.9")
	if a.Sources() != 0 { t.Fatalf("phantom source appeared") }
}

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"192.168.1.5:61234": "192.168.1.5",
		"[::1]:8080":        "::1",
		"garbage":           "garbage",
	}
	for in, want := range cases {
		if got := ClientIP(in); got != want { t.Fatalf("ClientIP(%q) = %q, want %q", in, got, want) }
	}
}
