package profile

import (
	"context"
	"errors"
	"testing"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*Profile, error) {
	return nil, errors.New("store down")
}
func (brokenStore) Put(context.Context, *Profile) error { return errors.New("store down") }

func TestServiceApplyMatchResultSymmetry(t *testing.T) {
	svc := NewService(NewMemStore(), nil)
	ctx := context.Background()

	updates, err := svc.ApplyMatchResult(ctx, "alice", "bob", 1.0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("updates: %d, want 2", len(updates))
	}
	if updates[0].Name != "alice" || updates[0].Rating != 1212 || updates[0].Delta != 12 {
		t.Fatalf("white update: %+v", updates[0])
	}
	if updates[1].Name != "bob" || updates[1].Rating != 1188 || updates[1].Delta != -12 {
		t.Fatalf("black update: %+v", updates[1])
	}

	// Results persist: the rematch starts from the new ratings.
	if got := svc.Rating(ctx, "alice"); got != 1212 {
		t.Fatalf("alice rating after win: %d", got)
	}
	if got := svc.Rating(ctx, "bob"); got != 1188 {
		t.Fatalf("bob rating after loss: %d", got)
	}

	// A draw narrows the gap: the higher-rated side concedes a point.
	updates, err = svc.ApplyMatchResult(ctx, "alice", "bob", 0.5)
	if err != nil {
		t.Fatalf("apply draw: %v", err)
	}
	if updates[0].Rating != 1211 || updates[0].Delta != -1 {
		t.Fatalf("white draw update: %+v", updates[0])
	}
	if updates[1].Rating != 1189 || updates[1].Delta != 1 {
		t.Fatalf("black draw update: %+v", updates[1])
	}
}

func TestServiceGetDefaultsUnknownPlayer(t *testing.T) {
	svc := NewService(NewMemStore(), nil)
	ctx := context.Background()

	p, err := svc.Get(ctx, "fresh")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Rating != DefaultRating || p.GamesPlayed != 0 {
		t.Fatalf("default profile: %+v", p)
	}

	// The default is ephemeral until a result is recorded.
	raw, err := NewMemStore().Get(ctx, "fresh")
	if err != nil || raw != nil {
		t.Fatalf("default leaked into store: %v %v", raw, err)
	}

	if _, err := svc.Get(ctx, "   "); err == nil {
		t.Fatal("blank name accepted")
	}
}

func TestServiceRatingFallsBackOnStoreError(t *testing.T) {
	svc := NewService(brokenStore{}, nil)
	if got := svc.Rating(context.Background(), "anyone"); got != DefaultRating {
		t.Fatalf("rating with broken store: %d, want %d", got, DefaultRating)
	}
	if _, err := svc.ApplyMatchResult(context.Background(), "a", "b", 1.0); err == nil {
		t.Fatal("apply with broken store should fail")
	}
}
