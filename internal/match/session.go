package match

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-match-server/internal/metrics"
)

// Session is the authoritative record of one match. Every mutation goes
// through its methods under s.mu; the registry's timeout sweep and the
// connection handlers may enter concurrently.
type Session struct {
	mu sync.Mutex

	id        string
	createdAt time.Time
	tc        TimeControl

	white *Player
	black *Player

	oracle Oracle
	pos    Position

	state      State
	whiteMs    int64
	blackMs    int64
	lastMoveAt time.Time
	moves      []MoveRecord

	drawOfferedBy Color // "" when no standing offer

	verdict    *Verdict
	finishedAt time.Time

	now  func() time.Time
	log  *zap.Logger
	mets *metrics.Registry
}

// PlayerView is a read-only copy handed to callers; sessions never expose
// their live Player structs.
type PlayerView struct {
	Token     string
	Name      string
	Rating    int
	Color     Color
	ConnID    string
	Connected bool
}

// Snapshot is a consistent read of session state for broadcasts and
// status queries.
type Snapshot struct {
	ID            string
	State         State
	TimeControl   string
	FEN           string
	Turn          Color
	WhiteMs       int64
	BlackMs       int64
	MovesSAN      []string
	DrawOfferedBy Color
	White         *PlayerView
	Black         *PlayerView
	Verdict       *Verdict
	CreatedAt     time.Time
}

func newSession(id string, oracle Oracle, pos Position, tc TimeControl, creator *Player, now func() time.Time, log *zap.Logger, mets *metrics.Registry) *Session {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		id:        id,
		createdAt: now(),
		tc:        tc,
		oracle:    oracle,
		pos:       pos,
		state:     StateWaiting,
		whiteMs:   tc.Initial.Milliseconds(),
		blackMs:   tc.Initial.Milliseconds(),
		now:       now,
		log:       log,
		mets:      mets,
	}
	s.seat(creator)
	return s
}

func (s *Session) ID() string { return s.id }

// Control returns the session's time control. It is fixed at creation.
func (s *Session) Control() TimeControl { return s.tc }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Join binds the second player and starts play. The white clock begins
// absorbing time from this moment.
func (s *Session) Join(p *Player) Reject {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateWaiting {
		return RejectNotPlaying
	}
	if s.white != nil && s.black != nil {
		return RejectSeatTaken
	}
	s.seat(p)
	s.state = StatePlaying
	s.lastMoveAt = s.now()
	s.log.Info("match_start",
		zap.String("match_id", s.id),
		zap.String("white", s.white.Name),
		zap.String("black", s.black.Name),
		zap.String("time_control", s.tc.Text),
	)
	return RejectNone
}

func (s *Session) seat(p *Player) {
	if p == nil {
		return
	}
	if p.Color == White {
		s.white = p
		return
	}
	if p.Color == Black {
		s.black = p
		return
	}
	// no color set: take the free seat
	if s.white == nil {
		p.Color = White
		s.white = p
	} else {
		p.Color = Black
		s.black = p
	}
}

// ApplyMove meters the mover's clock, then consults the oracle.
//
// Elapsed time is charged before the move text is looked at, so a flag
// fall pre-empts even a mating move, and a rejected move still costs the
// thinking time spent on it. The increment is only granted for a
// completed (accepted) move.
func (s *Session) ApplyMove(actorToken, moveText string) MoveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return MoveResult{Reject: RejectNotPlaying}
	}
	actor := s.byToken(actorToken)
	if actor == nil {
		return MoveResult{Reject: RejectNotParticipant}
	}
	if actor.Color != s.oracle.CurrentTurn(s.pos) {
		return MoveResult{Reject: RejectOutOfTurn}
	}

	nowAt := s.now()
	elapsed := nowAt.Sub(s.lastMoveAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := s.clockOf(actor.Color) - elapsed
	s.setClock(actor.Color, remaining)
	s.lastMoveAt = nowAt

	if remaining <= 0 {
		s.setClock(actor.Color, 0)
		v := s.finish(Verdict{
			Result: winResult(actor.Color.Other()),
			Reason: ReasonTimeout,
			Winner: actor.Color.Other(),
		})
		return MoveResult{
			Color:    actor.Color,
			FEN:      s.oracle.ExchangeFormat(s.pos),
			WhiteMs:  s.whiteMs,
			BlackMs:  s.blackMs,
			Finished: true,
			Verdict:  v,
		}
	}

	applied, ok := s.oracle.ApplyMove(s.pos, moveText)
	if !ok {
		s.log.Debug("match_move_rejected",
			zap.String("match_id", s.id),
			zap.String("color", string(actor.Color)),
			zap.String("move", moveText),
		)
		return MoveResult{
			Reject:  RejectIllegalMove,
			Color:   actor.Color,
			WhiteMs: s.whiteMs,
			BlackMs: s.blackMs,
		}
	}

	s.setClock(actor.Color, s.clockOf(actor.Color)+s.tc.Increment.Milliseconds())
	s.pos = applied.Position
	s.moves = append(s.moves, MoveRecord{
		SAN:         applied.SAN,
		UCI:         applied.UCI,
		Color:       actor.Color,
		RemainingMs: s.clockOf(actor.Color),
	})
	s.drawOfferedBy = ""

	res := MoveResult{
		Color:   actor.Color,
		SAN:     applied.SAN,
		UCI:     applied.UCI,
		FEN:     s.oracle.ExchangeFormat(s.pos),
		Turn:    s.oracle.CurrentTurn(s.pos),
		WhiteMs: s.whiteMs,
		BlackMs: s.blackMs,
	}

	if term := s.oracle.ClassifyTerminal(s.pos); term.Over {
		v := s.finish(Verdict{
			Result: term.Result,
			Reason: term.Reason,
			Winner: winnerOf(term.Result),
		})
		res.Finished = true
		res.Verdict = v
	}

	s.log.Info("match_move",
		zap.String("match_id", s.id),
		zap.String("color", string(actor.Color)),
		zap.String("san", applied.SAN),
		zap.Int64("white_ms", s.whiteMs),
		zap.Int64("black_ms", s.blackMs),
		zap.Bool("finished", res.Finished),
	)
	return res
}

// Resign ends the session in the opponent's favor.
func (s *Session) Resign(actorToken string) (*Verdict, Reject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return nil, RejectNotPlaying
	}
	actor := s.byToken(actorToken)
	if actor == nil {
		return nil, RejectNotParticipant
	}
	v := s.finish(Verdict{
		Result: winResult(actor.Color.Other()),
		Reason: ReasonResignation,
		Winner: actor.Color.Other(),
	})
	s.log.Info("match_resign",
		zap.String("match_id", s.id),
		zap.String("resigner", string(actor.Color)),
	)
	return v, RejectNone
}

// OfferDraw records the offering color, replacing any standing offer.
func (s *Session) OfferDraw(actorToken string) (Color, Reject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return "", RejectNotPlaying
	}
	actor := s.byToken(actorToken)
	if actor == nil {
		return "", RejectNotParticipant
	}
	s.drawOfferedBy = actor.Color
	s.log.Info("match_draw_offer",
		zap.String("match_id", s.id),
		zap.String("by", string(actor.Color)),
	)
	return actor.Color, RejectNone
}

// AcceptDraw finishes the session by agreement. A side cannot accept its
// own offer.
func (s *Session) AcceptDraw(actorToken string) (*Verdict, Reject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return nil, RejectNotPlaying
	}
	actor := s.byToken(actorToken)
	if actor == nil {
		return nil, RejectNotParticipant
	}
	if s.drawOfferedBy == "" {
		return nil, RejectNoDrawOffer
	}
	if s.drawOfferedBy == actor.Color {
		return nil, RejectOwnDrawOffer
	}
	s.drawOfferedBy = ""
	v := s.finish(Verdict{Result: ResultDraw, Reason: ReasonAgreement})
	s.log.Info("match_draw_accept", zap.String("match_id", s.id))
	return v, RejectNone
}

// DeclineDraw clears a standing offer from the other side. Returns false
// when there is nothing to decline.
func (s *Session) DeclineDraw(actorToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return false
	}
	actor := s.byToken(actorToken)
	if actor == nil {
		return false
	}
	if s.drawOfferedBy == "" || s.drawOfferedBy == actor.Color {
		return false
	}
	s.drawOfferedBy = ""
	s.log.Info("match_draw_decline",
		zap.String("match_id", s.id),
		zap.String("by", string(actor.Color)),
	)
	return true
}

// HandleDisconnect marks the player bound to connID as away. The clock
// keeps running against them; the grace sweep decides abandonment later.
func (s *Session) HandleDisconnect(connID string) (Color, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.byConn(connID)
	if p == nil {
		return "", false
	}
	p.Connected = false
	p.DisconnectedAt = s.now()
	s.log.Info("match_disconnect",
		zap.String("match_id", s.id),
		zap.String("color", string(p.Color)),
	)
	return p.Color, true
}

// HandleReconnect rebinds a player found by identity token to a new
// connection. Returns nil when the token matches no participant.
func (s *Session) HandleReconnect(token, newConnID string) *PlayerView {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.byToken(token)
	if p == nil {
		return nil
	}
	p.ConnID = newConnID
	p.Connected = true
	p.DisconnectedAt = time.Time{}
	s.log.Info("match_reconnect",
		zap.String("match_id", s.id),
		zap.String("color", string(p.Color)),
	)
	v := viewOf(p)
	return &v
}

// CheckDisconnectTimeout is polled by the registry sweep. Once a player
// has been away past grace it returns the abandonment verdict, exactly
// once; afterwards the session is Finished and it returns nil forever.
func (s *Session) CheckDisconnectTimeout(grace time.Duration) *Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return nil
	}
	nowAt := s.now()
	loser := (*Player)(nil)
	worst := time.Duration(0)
	for _, p := range []*Player{s.white, s.black} {
		if p == nil || p.Connected || p.DisconnectedAt.IsZero() {
			continue
		}
		away := nowAt.Sub(p.DisconnectedAt)
		if away > grace && away > worst {
			worst = away
			loser = p
		}
	}
	if loser == nil {
		return nil
	}
	v := s.finish(Verdict{
		Result: winResult(loser.Color.Other()),
		Reason: ReasonAbandonment,
		Winner: loser.Color.Other(),
	})
	s.log.Info("match_abandon",
		zap.String("match_id", s.id),
		zap.String("loser", string(loser.Color)),
		zap.Duration("away", worst),
	)
	return v
}

// Snapshot returns a consistent copy of observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:            s.id,
		State:         s.state,
		TimeControl:   s.tc.Text,
		FEN:           s.oracle.ExchangeFormat(s.pos),
		WhiteMs:       s.whiteMs,
		BlackMs:       s.blackMs,
		DrawOfferedBy: s.drawOfferedBy,
		CreatedAt:     s.createdAt,
	}
	if s.state == StatePlaying {
		snap.Turn = s.oracle.CurrentTurn(s.pos)
	}
	if len(s.moves) > 0 {
		snap.MovesSAN = make([]string, len(s.moves))
		for i, m := range s.moves {
			snap.MovesSAN[i] = m.SAN
		}
	}
	if s.white != nil {
		v := viewOf(s.white)
		snap.White = &v
	}
	if s.black != nil {
		v := viewOf(s.black)
		snap.Black = &v
	}
	if s.verdict != nil {
		v := *s.verdict
		snap.Verdict = &v
	}
	return snap
}

// ConnIDs lists the connection ids of currently connected participants.
func (s *Session) ConnIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, p := range []*Player{s.white, s.black} {
		if p != nil && p.Connected && p.ConnID != "" {
			ids = append(ids, p.ConnID)
		}
	}
	return ids
}

// PGN renders the move history; empty until the session has moves.
func (s *Session) PGN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return buildPGN(pgnInput{
		White:       nameOf(s.white),
		Black:       nameOf(s.black),
		TimeControl: s.tc.Text,
		Date:        s.finishedOr(s.createdAt),
		MovesSAN:    sanList(s.moves),
		Verdict:     s.verdict,
	})
}

// waitingExpired reports whether a Waiting session has outlived ttl
// without an opponent.
func (s *Session) waitingExpired(ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateWaiting && s.now().Sub(s.createdAt) > ttl
}

// collectible reports whether a Finished session has no connected
// participants left to query it.
func (s *Session) collectible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFinished {
		return false
	}
	for _, p := range []*Player{s.white, s.black} {
		if p != nil && p.Connected {
			return false
		}
	}
	return true
}

// finish fixes the verdict. Caller holds s.mu.
func (s *Session) finish(v Verdict) *Verdict {
	s.state = StateFinished
	s.verdict = &v
	s.finishedAt = s.now()
	s.mets.Inc(metrics.SessionsFinishPrefix + string(v.Reason))
	s.log.Info("match_finish",
		zap.String("match_id", s.id),
		zap.String("result", string(v.Result)),
		zap.String("reason", string(v.Reason)),
	)
	return s.verdict
}

func (s *Session) finishedOr(fallback time.Time) time.Time {
	if !s.finishedAt.IsZero() {
		return s.finishedAt
	}
	return fallback
}

func (s *Session) byToken(token string) *Player {
	if token == "" {
		return nil
	}
	if s.white != nil && s.white.Token == token {
		return s.white
	}
	if s.black != nil && s.black.Token == token {
		return s.black
	}
	return nil
}

func (s *Session) byConn(connID string) *Player {
	if connID == "" {
		return nil
	}
	if s.white != nil && s.white.ConnID == connID {
		return s.white
	}
	if s.black != nil && s.black.ConnID == connID {
		return s.black
	}
	return nil
}

func (s *Session) clockOf(c Color) int64 {
	if c == White {
		return s.whiteMs
	}
	return s.blackMs
}

func (s *Session) setClock(c Color, ms int64) {
	if c == White {
		s.whiteMs = ms
	} else {
		s.blackMs = ms
	}
}

func winResult(winner Color) Result {
	if winner == White {
		return ResultWhiteWon
	}
	return ResultBlackWon
}

func winnerOf(r Result) Color {
	switch r {
	case ResultWhiteWon:
		return White
	case ResultBlackWon:
		return Black
	default:
		return ""
	}
}

func viewOf(p *Player) PlayerView {
	return PlayerView{
		Token:     p.Token,
		Name:      p.Name,
		Rating:    p.Rating,
		Color:     p.Color,
		ConnID:    p.ConnID,
		Connected: p.Connected,
	}
}

func nameOf(p *Player) string {
	if p == nil {
		return "?"
	}
	return p.Name
}

func sanList(moves []MoveRecord) []string {
	out := make([]string, len(moves))
	for i, m := range moves {
		out[i] = m.SAN
	}
	return out
}
