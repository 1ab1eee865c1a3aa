package profile

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	missing, err := s.Get(ctx, "ghost")
	if err != nil || missing != nil {
		t.Fatalf("absent player: %v %v, want nil nil", missing, err)
	}

	in := &Profile{
		Name:        "alice",
		Rating:      1275,
		GamesPlayed: 9,
		Wins:        5,
		Losses:      3,
		Draws:       1,
		Streak:      2,
		StreakType:  "win",
		UpdatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.Put(ctx, in); err != nil {
		t.Fatalf("put: %v", err)
	}

	out, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out == nil || out.Rating != 1275 || out.Wins != 5 || out.StreakType != "win" {
		t.Fatalf("round trip: %+v", out)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("created_at: %v, want %v", out.CreatedAt, in.CreatedAt)
	}

	// Names are trimmed on the key, so padded lookups find the record.
	padded, err := s.Get(ctx, "  alice  ")
	if err != nil || padded == nil {
		t.Fatalf("padded lookup: %v %v", padded, err)
	}
}

func TestServiceWithRedisStore(t *testing.T) {
	svc := NewService(newTestRedisStore(t), nil)
	ctx := context.Background()

	if _, err := svc.ApplyMatchResult(ctx, "alice", "bob", 0.0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := svc.Rating(ctx, "bob"); got != 1212 {
		t.Fatalf("bob rating after win: %d", got)
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := parseRedisURL("redis://:secret@localhost:6379/2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("opts: %+v", opts)
	}

	if _, err := parseRedisURL("http://localhost:6379"); err == nil {
		t.Fatal("http scheme accepted")
	}
}
