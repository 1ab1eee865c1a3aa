package match

import (
	"strconv"
	"strings"
	"time"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Other returns the opposing side.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// ColorChoice is the creator's seat preference.
type ColorChoice string

const (
	ColorWhite  ColorChoice = "white"
	ColorBlack  ColorChoice = "black"
	ColorRandom ColorChoice = "random"
)

func ParseColorChoice(s string) ColorChoice {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return ColorWhite
	case "black", "b":
		return ColorBlack
	default:
		return ColorRandom
	}
}

// State is the session lifecycle. FINISHED is terminal.
type State string

const (
	StateWaiting  State = "WAITING"
	StatePlaying  State = "PLAYING"
	StateFinished State = "FINISHED"
)

// Result is the fixed outcome of a finished session.
type Result string

const (
	ResultWhiteWon Result = "white_won"
	ResultBlackWon Result = "black_won"
	ResultDraw     Result = "draw"
)

// Reason explains how a finished session ended.
type Reason string

const (
	ReasonCheckmate            Reason = "checkmate"
	ReasonStalemate            Reason = "stalemate"
	ReasonInsufficientMaterial Reason = "insufficient_material"
	ReasonRepetition           Reason = "repetition"
	ReasonFiftyMove            Reason = "fifty_move"
	ReasonTimeout              Reason = "timeout"
	ReasonResignation          Reason = "resignation"
	ReasonAgreement            Reason = "agreement"
	ReasonAbandonment          Reason = "abandonment"
)

// Reject is a typed operation rejection. Rejections are ordinary values,
// not errors; RejectNone means the operation succeeded.
type Reject string

const (
	RejectNone           Reject = ""
	RejectNotPlaying     Reject = "not_playing"
	RejectNotParticipant Reject = "not_participant"
	RejectOutOfTurn      Reject = "out_of_turn"
	RejectIllegalMove    Reject = "illegal_move"
	RejectNoDrawOffer    Reject = "no_draw_offer"
	RejectOwnDrawOffer   Reject = "own_draw_offer"
	RejectSeatTaken      Reject = "seat_taken"
)

// Verdict fixes the result of a finished session.
type Verdict struct {
	Result Result
	Reason Reason
	Winner Color // empty on draw
}

// Player is one seat of a session. Token is the durable identity that
// survives reconnects; ConnID is the current transport binding.
type Player struct {
	Token          string
	Name           string
	Rating         int
	Color          Color
	ConnID         string
	Connected      bool
	DisconnectedAt time.Time // zero while connected
}

// MoveRecord is one entry of the replay/export history.
type MoveRecord struct {
	SAN         string
	UCI         string
	Color       Color
	RemainingMs int64 // mover's clock after the move
}

// MoveResult reports the outcome of applyMove. On a flag fall SAN/UCI are
// empty: the submitted text was never evaluated.
type MoveResult struct {
	Reject   Reject
	Color    Color
	SAN      string
	UCI      string
	FEN      string
	Turn     Color
	WhiteMs  int64
	BlackMs  int64
	Finished bool
	Verdict  *Verdict
}

// TimeControl is an initial budget plus a per-move increment.
type TimeControl struct {
	Initial   time.Duration
	Increment time.Duration
	Text      string // original "M+S" form for display and PGN
}

// ParseTimeControl parses the product's "minutes+increment" convention,
// e.g. "10+0" or "3+2". Malformed input falls back to def.
func ParseTimeControl(s, def string) TimeControl {
	tc, ok := parseTimeControl(s)
	if ok {
		return tc
	}
	if tc, ok = parseTimeControl(def); ok {
		return tc
	}
	return TimeControl{Initial: 10 * time.Minute, Text: "10+0"}
}

func parseTimeControl(s string) (TimeControl, bool) {
	s = strings.TrimSpace(s)
	base, inc, found := strings.Cut(s, "+")
	if !found {
		return TimeControl{}, false
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(base))
	if err != nil || minutes <= 0 || minutes > 180 {
		return TimeControl{}, false
	}
	incSec, err := strconv.Atoi(strings.TrimSpace(inc))
	if err != nil || incSec < 0 || incSec > 600 {
		return TimeControl{}, false
	}
	return TimeControl{
		Initial:   time.Duration(minutes) * time.Minute,
		Increment: time.Duration(incSec) * time.Second,
		Text:      s,
	}, true
}
