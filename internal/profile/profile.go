// Package profile keeps per-player rating records and applies Elo updates
// after finished matches. Records are stored by display name; a player who
// has never finished a match gets a fresh default record on first result.
package profile

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultRating seeds a brand-new player record.
	DefaultRating = 1200
	// kFactor controls rating volatility per game.
	kFactor = 24.0
)

// Profile is the persistent per-player rating record.
type Profile struct {
	Name        string    `json:"name"`
	Rating      int       `json:"rating"`
	GamesPlayed int       `json:"games_played"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	Streak      int       `json:"streak"`
	StreakType  string    `json:"streak_type,omitempty"`
	LastPlayed  time.Time `json:"last_played,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists profiles. Get returns (nil, nil) when no record exists.
type Store interface {
	Get(ctx context.Context, name string) (*Profile, error)
	Put(ctx context.Context, p *Profile) error
}

// applyResult folds one game result into a profile and returns the updated
// record plus the rating delta. score is 1.0 for a win, 0.5 for a draw and
// 0.0 for a loss; opponentRating is the opponent's rating before the game.
// A nil profile starts from a default record for name.
func applyResult(p *Profile, name string, opponentRating int, score float64, at time.Time) (*Profile, int) {
	if p == nil {
		p = &Profile{Name: name, Rating: DefaultRating, CreatedAt: at}
	}
	prev := p.Rating
	p.GamesPlayed++

	var resultType string
	switch {
	case score >= 1.0:
		p.Wins++
		resultType = "win"
	case score <= 0.0:
		p.Losses++
		resultType = "loss"
	default:
		p.Draws++
		resultType = "draw"
	}
	if p.StreakType == resultType {
		p.Streak++
	} else {
		p.Streak = 1
		p.StreakType = resultType
	}

	expected := 1.0 / (1.0 + math.Pow(10, float64(opponentRating-p.Rating)/400.0))
	newRating := float64(p.Rating) + kFactor*(score-expected)
	p.Rating = int(math.Round(newRating))

	p.LastPlayed = at
	p.UpdatedAt = at
	return p, p.Rating - prev
}
