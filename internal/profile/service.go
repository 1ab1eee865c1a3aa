package profile

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Update describes one player's rating change after a finished match.
type Update struct {
	Name   string
	Rating int
	Delta  int
}

// Service loads profiles and records match results for both players.
type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Get returns the stored profile for name, or a fresh default record when
// the player has never finished a match. The default is not persisted.
func (s *Service) Get(ctx context.Context, name string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("empty player name")
	}
	p, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		at := s.now()
		return &Profile{Name: name, Rating: DefaultRating, CreatedAt: at, UpdatedAt: at}, nil
	}
	return p, nil
}

// Rating returns the stored rating for name. Unknown players and store
// errors fall back to the default so match setup never blocks on the
// profile store.
func (s *Service) Rating(ctx context.Context, name string) int {
	p, err := s.store.Get(ctx, strings.TrimSpace(name))
	if err != nil {
		s.log.Warn("profile_load_failed", zap.String("player", name), zap.Error(err))
		return DefaultRating
	}
	if p == nil {
		return DefaultRating
	}
	return p.Rating
}

// ApplyMatchResult records a finished game for both players and returns
// their rating updates, white first. whiteScore is 1.0 when white won,
// 0.5 for a draw and 0.0 when black won. Expected scores use each
// opponent's rating from before the game.
func (s *Service) ApplyMatchResult(ctx context.Context, whiteName, blackName string, whiteScore float64) ([]Update, error) {
	whiteName = strings.TrimSpace(whiteName)
	blackName = strings.TrimSpace(blackName)
	at := s.now()

	white, err := s.store.Get(ctx, whiteName)
	if err != nil {
		return nil, err
	}
	black, err := s.store.Get(ctx, blackName)
	if err != nil {
		return nil, err
	}

	whiteBefore := ratingOf(white)
	blackBefore := ratingOf(black)

	white, whiteDelta := applyResult(white, whiteName, blackBefore, whiteScore, at)
	black, blackDelta := applyResult(black, blackName, whiteBefore, 1.0-whiteScore, at)

	if err := s.store.Put(ctx, white); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, black); err != nil {
		return nil, err
	}

	s.log.Info("rating_update",
		zap.String("white", whiteName), zap.Int("white_rating", white.Rating), zap.Int("white_delta", whiteDelta),
		zap.String("black", blackName), zap.Int("black_rating", black.Rating), zap.Int("black_delta", blackDelta))

	return []Update{
		{Name: white.Name, Rating: white.Rating, Delta: whiteDelta},
		{Name: black.Name, Rating: black.Rating, Delta: blackDelta},
	}, nil
}

func ratingOf(p *Profile) int {
	if p == nil {
		return DefaultRating
	}
	return p.Rating
}
