package wshub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-match-server/internal/config"
	"github.com/park285/cheese-match-server/internal/crashguard"
	"github.com/park285/cheese-match-server/internal/guard"
	"github.com/park285/cheese-match-server/internal/match"
	"github.com/park285/cheese-match-server/internal/metrics"
	"github.com/park285/cheese-match-server/internal/notices"
	"github.com/park285/cheese-match-server/internal/profile"
	"github.com/park285/cheese-match-server/internal/shutdown"
	"github.com/park285/cheese-match-server/pkg/matchdto"
)

const maxNameRunes = 32

// Handler owns the websocket endpoint: it admits connections, reads the
// message stream and routes commands into the match registry. One
// goroutine per connection reads; writes go through the connection's
// queue so a slow client never blocks game progress.
type Handler struct {
	cfg       *config.AppConfig
	hub       *Hub
	registry  *match.Registry
	admission *guard.Admission
	limiter   *guard.RateLimiter
	profiles  *profile.Service
	catalog   *notices.Catalog
	sh        *shutdown.State
	guard     *crashguard.Guard
	log       *zap.Logger
	mets      *metrics.Registry
}

type HandlerDeps struct {
	Cfg       *config.AppConfig
	Hub       *Hub
	Registry  *match.Registry
	Admission *guard.Admission
	Limiter   *guard.RateLimiter
	Profiles  *profile.Service
	Catalog   *notices.Catalog
	Shutdown  *shutdown.State
	Guard     *crashguard.Guard
	Log       *zap.Logger
	Metrics   *metrics.Registry
}

func NewHandler(d HandlerDeps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		cfg:       d.Cfg,
		hub:       d.Hub,
		registry:  d.Registry,
		admission: d.Admission,
		limiter:   d.Limiter,
		profiles:  d.Profiles,
		catalog:   d.Catalog,
		sh:        d.Shutdown,
		guard:     d.Guard,
		log:       log,
		mets:      d.Metrics,
	}
	// Sweep-driven finishes (abandonment, expired lobbies) surface here so
	// the verdict reaches the players the same way a move-driven one does.
	h.registry.OnFinish = h.onSweepFinish
	h.registry.OnExpire = h.onSweepExpire
	return h
}

// HandleWS upgrades the request and runs the connection until the client
// leaves or the server closes it.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.sh.InProgress() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	ip := guard.ClientIP(r.RemoteAddr)
	if !h.admission.TryAcquire(ip) {
		http.Error(w, "connection limit reached", http.StatusTooManyRequests)
		return
	}

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // token-based auth, origin is not the boundary
		CompressionMode:    websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.admission.Release(ip)
		h.log.Warn("ws_accept_failed", zap.String("ip", ip), zap.Error(err))
		return
	}

	conn := newConn(sock, ip, h.log, h.mets)
	h.hub.Register(conn)
	h.guard.Go("ws_write", conn.writeLoop)
	h.guard.Go("ws_ping", conn.pingLoop)

	defer h.guard.RecoverAsync("ws_session")
	defer h.teardown(conn)

	ctx := r.Context()
	for {
		env, err := conn.ReadEnvelope(ctx)
		if err != nil {
			return
		}
		if !h.limiter.Allow(conn.ID()) {
			conn.SendEvent(matchdto.TypeError, matchdto.ErrorEvent{
				Code:    matchdto.CodeRateLimited,
				Message: "message budget exhausted, slow down",
			})
			continue
		}
		h.dispatch(ctx, conn, env)
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *Conn, env *matchdto.Envelope) {
	switch env.Type {
	case matchdto.TypeCreate:
		h.handleCreate(ctx, conn, env.Data)
	case matchdto.TypeJoin:
		h.handleJoin(ctx, conn, env.Data)
	case matchdto.TypeReconnect:
		h.handleReconnect(conn, env.Data)
	case matchdto.TypeMove:
		h.handleMove(ctx, conn, env.Data)
	case matchdto.TypeResign:
		h.handleResign(ctx, conn)
	case matchdto.TypeDrawOffer:
		h.handleDrawOffer(conn)
	case matchdto.TypeDrawAccept:
		h.handleDrawAccept(ctx, conn)
	case matchdto.TypeDrawDecline:
		h.handleDrawDecline(conn)
	case matchdto.TypeState:
		h.handleState(conn)
	case matchdto.TypeProfile:
		h.handleProfile(ctx, conn, env.Data)
	default:
		h.sendError(conn, matchdto.CodeBadRequest, "unknown message type: "+env.Type)
	}
}

func (h *Handler) handleCreate(ctx context.Context, conn *Conn, data json.RawMessage) {
	if h.refuseWhenDraining(conn) {
		return
	}
	var req matchdto.CreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(conn, matchdto.CodeBadRequest, "malformed create request")
		return
	}
	name := cleanName(req.Name)
	if name == "" {
		h.sendError(conn, matchdto.CodeBadRequest, "player name required")
		return
	}
	if matchID, _ := conn.Binding(); matchID != "" {
		h.sendError(conn, matchdto.CodeBadRequest, "connection already in a match")
		return
	}

	sess, view, err := h.registry.CreateMatch(match.CreateParams{
		Name:    name,
		Rating:  h.profiles.Rating(ctx, name),
		Color:   match.ParseColorChoice(req.Color),
		Control: req.TimeControl,
		ConnID:  conn.ID(),
	})
	if err != nil {
		h.sendError(conn, codeForCreateErr(err), err.Error())
		return
	}

	conn.Bind(sess.ID(), view.Token)
	tc := sess.Control()
	conn.SendEvent(matchdto.TypeCreated, matchdto.CreatedEvent{
		MatchID:     sess.ID(),
		Token:       view.Token,
		Color:       string(view.Color),
		TimeControl: tc.Text,
		InitialMs:   tc.Initial.Milliseconds(),
		IncrementMs: tc.Increment.Milliseconds(),
	})
}

func (h *Handler) handleJoin(ctx context.Context, conn *Conn, data json.RawMessage) {
	if h.refuseWhenDraining(conn) {
		return
	}
	var req matchdto.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(conn, matchdto.CodeBadRequest, "malformed join request")
		return
	}
	name := cleanName(req.Name)
	if name == "" {
		h.sendError(conn, matchdto.CodeBadRequest, "player name required")
		return
	}
	if matchID, _ := conn.Binding(); matchID != "" {
		h.sendError(conn, matchdto.CodeBadRequest, "connection already in a match")
		return
	}

	sess, view, err := h.registry.JoinMatch(match.JoinParams{
		MatchID: strings.TrimSpace(req.MatchID),
		Name:    name,
		Rating:  h.profiles.Rating(ctx, name),
		ConnID:  conn.ID(),
	})
	if err != nil {
		h.sendError(conn, codeForJoinErr(err), err.Error())
		return
	}

	conn.Bind(sess.ID(), view.Token)
	h.announceGameStart(sess)
}

func (h *Handler) handleReconnect(conn *Conn, data json.RawMessage) {
	var req matchdto.ReconnectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(conn, matchdto.CodeBadRequest, "malformed reconnect request")
		return
	}
	sess, view, err := h.registry.Reconnect(strings.TrimSpace(req.MatchID), strings.TrimSpace(req.Token), conn.ID())
	if err != nil {
		h.sendError(conn, codeForJoinErr(err), err.Error())
		return
	}

	conn.Bind(sess.ID(), view.Token)
	conn.SendEvent(matchdto.TypeReconnected, h.stateEventOf(sess))

	// The opponent learns the peer is back.
	h.broadcastExcept(sess, conn.ID(), matchdto.TypePeerStatus, matchdto.PeerStatusEvent{
		MatchID:   sess.ID(),
		Color:     string(view.Color),
		Connected: true,
	})
	h.noticeExcept(sess, conn.ID(), "peer_reconnected",
		h.catalog.RenderOr("match.peer_reconnected", view.Name+" is back online.", map[string]any{"Name": view.Name}))
}

func (h *Handler) handleMove(ctx context.Context, conn *Conn, data json.RawMessage) {
	var req matchdto.MoveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(conn, matchdto.CodeBadRequest, "malformed move request")
		return
	}
	sess, token, ok := h.sessionOf(conn)
	if !ok {
		return
	}

	res := sess.ApplyMove(token, req.Move)
	if res.Reject != match.RejectNone {
		conn.SendEvent(matchdto.TypeError, matchdto.ErrorEvent{
			Code:    string(res.Reject),
			Message: rejectMessage(res.Reject),
			Move:    req.Move,
		})
		return
	}

	if res.SAN != "" {
		h.broadcastEvent(sess.ConnIDs(), matchdto.TypeMovePlayed, matchdto.MoveEvent{
			MatchID: sess.ID(),
			Color:   string(res.Color),
			SAN:     res.SAN,
			UCI:     res.UCI,
			FEN:     res.FEN,
			Turn:    string(res.Turn),
			WhiteMs: res.WhiteMs,
			BlackMs: res.BlackMs,
		})
	}
	if res.Finished {
		h.finishMatch(ctx, sess, *res.Verdict)
	}
}

func (h *Handler) handleResign(ctx context.Context, conn *Conn) {
	sess, token, ok := h.sessionOf(conn)
	if !ok {
		return
	}
	verdict, rej := sess.Resign(token)
	if rej != match.RejectNone {
		h.sendError(conn, string(rej), rejectMessage(rej))
		return
	}
	h.finishMatch(ctx, sess, *verdict)
}

func (h *Handler) handleDrawOffer(conn *Conn) {
	sess, token, ok := h.sessionOf(conn)
	if !ok {
		return
	}
	by, rej := sess.OfferDraw(token)
	if rej != match.RejectNone {
		h.sendError(conn, string(rej), rejectMessage(rej))
		return
	}
	h.broadcastEvent(sess.ConnIDs(), matchdto.TypeDrawOffered, matchdto.DrawOfferEvent{
		MatchID: sess.ID(),
		By:      string(by),
	})
}

func (h *Handler) handleDrawAccept(ctx context.Context, conn *Conn) {
	sess, token, ok := h.sessionOf(conn)
	if !ok {
		return
	}
	verdict, rej := sess.AcceptDraw(token)
	if rej != match.RejectNone {
		h.sendError(conn, string(rej), rejectMessage(rej))
		return
	}
	h.finishMatch(ctx, sess, *verdict)
}

func (h *Handler) handleDrawDecline(conn *Conn) {
	sess, token, ok := h.sessionOf(conn)
	if !ok {
		return
	}
	if !sess.DeclineDraw(token) {
		h.sendError(conn, matchdto.CodeNoDrawOffer, rejectMessage(match.RejectNoDrawOffer))
		return
	}
	by := ""
	if pv := viewByToken(sess, token); pv != nil {
		by = string(pv.Color)
	}
	h.broadcastEvent(sess.ConnIDs(), matchdto.TypeDrawDeclined, matchdto.DrawDeclinedEvent{
		MatchID: sess.ID(),
		By:      by,
	})
}

func (h *Handler) handleState(conn *Conn) {
	sess, _, ok := h.sessionOf(conn)
	if !ok {
		return
	}
	conn.SendEvent(matchdto.TypeStateSnapshot, h.stateEventOf(sess))
}

func (h *Handler) handleProfile(ctx context.Context, conn *Conn, data json.RawMessage) {
	var req matchdto.ProfileRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			h.sendError(conn, matchdto.CodeBadRequest, "malformed profile request")
			return
		}
	}
	name := cleanName(req.Name)
	if name == "" {
		// Default to the caller's own seat when bound to a match.
		if _, token := conn.Binding(); token != "" {
			if sess, _, ok := h.sessionOf(conn); ok {
				if pv := viewByToken(sess, token); pv != nil {
					name = pv.Name
				}
			}
		}
	}
	if name == "" {
		h.sendError(conn, matchdto.CodeBadRequest, "player name required")
		return
	}

	p, err := h.profiles.Get(ctx, name)
	if err != nil {
		h.sendError(conn, matchdto.CodeBadRequest, "profile unavailable")
		return
	}
	conn.SendEvent(matchdto.TypeProfileInfo, matchdto.ProfileEvent{
		Name:        p.Name,
		Rating:      p.Rating,
		GamesPlayed: p.GamesPlayed,
		Wins:        p.Wins,
		Losses:      p.Losses,
		Draws:       p.Draws,
		Streak:      p.Streak,
		StreakType:  p.StreakType,
	})
}

// teardown runs once per connection, regardless of how the read loop
// ended. The player's seat survives in the session; only the transport
// bookkeeping is torn down here.
func (h *Handler) teardown(conn *Conn) {
	h.hub.Unregister(conn.ID())
	h.limiter.Clear(conn.ID())
	h.admission.Release(conn.IP())

	if sess, color, ok := h.registry.HandleDisconnect(conn.ID()); ok {
		h.broadcastEvent(sess.ConnIDs(), matchdto.TypePeerStatus, matchdto.PeerStatusEvent{
			MatchID:   sess.ID(),
			Color:     string(color),
			Connected: false,
		})
		if sess.State() == match.StatePlaying {
			grace := int(h.cfg.DisconnectGrace().Seconds())
			h.noticeExcept(sess, conn.ID(), "peer_disconnected",
				h.catalog.RenderOr("match.peer_disconnected", "Your opponent lost their connection.",
					map[string]any{"Name": nameOfColor(sess, color), "GraceSec": grace}))
		}
	}
	conn.Close(websocket.StatusNormalClosure, "bye")
}

// AnnounceShutdown tells every live connection the server is going down
// and when to retry. Wired as the shutdown coordinator's notify hook.
func (h *Handler) AnnounceShutdown() {
	delay := h.cfg.ReconnectDelay
	msg := h.catalog.RenderOr("shutdown.notice", "Server is restarting, please reconnect shortly.",
		map[string]any{"ReconnectDelaySec": delay})
	raw, err := matchdto.Encode(matchdto.TypeServerNotice, matchdto.ServerNoticeEvent{
		Notice:            "shutdown",
		Message:           msg,
		ReconnectDelaySec: delay,
	})
	if err != nil {
		h.log.Error("notice_encode_failed", zap.Error(err))
		return
	}
	h.hub.BroadcastAll(raw)
}

// AnnounceCrash is the last write before a fatal exit. Best effort: the
// process is already going down and some sockets may never see it.
func (h *Handler) AnnounceCrash() {
	delay := h.cfg.ReconnectDelay
	msg := h.catalog.RenderOr("crash.notice", "Server hit a fault and is restarting, please reconnect shortly.",
		map[string]any{"ReconnectDelaySec": delay})
	raw, err := matchdto.Encode(matchdto.TypeServerNotice, matchdto.ServerNoticeEvent{
		Notice:            "crash",
		Message:           msg,
		ReconnectDelaySec: delay,
	})
	if err != nil {
		return
	}
	h.hub.BroadcastAll(raw)
}

// finishMatch settles ratings and tells both players the outcome.
func (h *Handler) finishMatch(ctx context.Context, sess *match.Session, v match.Verdict) {
	snap := sess.Snapshot()
	ev := matchdto.GameOverEvent{
		MatchID: snap.ID,
		Result:  string(v.Result),
		Reason:  string(v.Reason),
		Winner:  string(v.Winner),
		FEN:     snap.FEN,
		WhiteMs: snap.WhiteMs,
		BlackMs: snap.BlackMs,
		PGN:     sess.PGN(),
	}
	if snap.White != nil && snap.Black != nil {
		updates, err := h.profiles.ApplyMatchResult(ctx, snap.White.Name, snap.Black.Name, whiteScoreOf(v.Result))
		if err != nil {
			h.log.Warn("rating_update_failed", zap.String("match_id", snap.ID), zap.Error(err))
		} else {
			for _, u := range updates {
				ev.Ratings = append(ev.Ratings, matchdto.RatingUpdate{Name: u.Name, Rating: u.Rating, Delta: u.Delta})
			}
		}
	}
	h.broadcastEvent(sess.ConnIDs(), matchdto.TypeGameOver, ev)
}

func (h *Handler) onSweepFinish(sess *match.Session, v match.Verdict) {
	if v.Reason == match.ReasonAbandonment {
		grace := int(h.cfg.DisconnectGrace().Seconds())
		msg := h.catalog.RenderOr("match.abandonment", "Match decided by abandonment.", map[string]any{
			"Loser":    nameOfColor(sess, v.Winner.Other()),
			"Winner":   nameOfColor(sess, v.Winner),
			"GraceSec": grace,
		})
		h.broadcastEvent(sess.ConnIDs(), matchdto.TypeServerNotice, matchdto.ServerNoticeEvent{
			Notice:  "abandonment",
			Message: msg,
		})
	}
	h.finishMatch(context.Background(), sess, v)
}

func (h *Handler) onSweepExpire(sess *match.Session) {
	msg := h.catalog.RenderOr("match.waiting_expired", "Match closed: no opponent joined.",
		map[string]any{"MatchID": sess.ID()})
	h.broadcastEvent(sess.ConnIDs(), matchdto.TypeServerNotice, matchdto.ServerNoticeEvent{
		Notice:  "waiting_expired",
		Message: msg,
	})
}

func (h *Handler) announceGameStart(sess *match.Session) {
	snap := sess.Snapshot()
	if snap.White == nil || snap.Black == nil {
		return
	}
	base := matchdto.GameStartEvent{
		MatchID:     snap.ID,
		White:       matchdto.PlayerInfo{Name: snap.White.Name, Rating: snap.White.Rating},
		Black:       matchdto.PlayerInfo{Name: snap.Black.Name, Rating: snap.Black.Rating},
		TimeControl: snap.TimeControl,
		FEN:         snap.FEN,
		Turn:        string(snap.Turn),
		WhiteMs:     snap.WhiteMs,
		BlackMs:     snap.BlackMs,
	}
	for _, pv := range []*match.PlayerView{snap.White, snap.Black} {
		conn, ok := h.hub.Get(pv.ConnID)
		if !ok {
			continue
		}
		ev := base
		ev.Token = pv.Token
		ev.Color = string(pv.Color)
		conn.SendEvent(matchdto.TypeGameStart, ev)
	}
}

func (h *Handler) stateEventOf(sess *match.Session) matchdto.StateEvent {
	snap := sess.Snapshot()
	ev := matchdto.StateEvent{
		MatchID:       snap.ID,
		State:         string(snap.State),
		FEN:           snap.FEN,
		WhiteMs:       snap.WhiteMs,
		BlackMs:       snap.BlackMs,
		MovesSAN:      snap.MovesSAN,
		DrawOfferedBy: string(snap.DrawOfferedBy),
	}
	if snap.State == match.StatePlaying {
		ev.Turn = string(snap.Turn)
	}
	if snap.Verdict != nil {
		ev.Result = string(snap.Verdict.Result)
		ev.Reason = string(snap.Verdict.Reason)
		ev.PGN = sess.PGN()
	}
	return ev
}

func (h *Handler) sessionOf(conn *Conn) (*match.Session, string, bool) {
	matchID, token := conn.Binding()
	if matchID == "" {
		h.sendError(conn, matchdto.CodeBadRequest, "no active match on this connection")
		return nil, "", false
	}
	sess, ok := h.registry.Get(matchID)
	if !ok {
		h.sendError(conn, matchdto.CodeNotFound, "match no longer exists")
		return nil, "", false
	}
	return sess, token, true
}

func (h *Handler) refuseWhenDraining(conn *Conn) bool {
	if h.sh.InProgress() {
		h.sendError(conn, matchdto.CodeShutdown, "server shutting down, no new matches")
		return true
	}
	return false
}

func (h *Handler) sendError(conn *Conn, code, message string) {
	conn.SendEvent(matchdto.TypeError, matchdto.ErrorEvent{Code: code, Message: message})
}

func (h *Handler) broadcastEvent(ids []string, msgType string, payload any) {
	raw, err := matchdto.Encode(msgType, payload)
	if err != nil {
		h.log.Error("event_encode_failed", zap.String("type", msgType), zap.Error(err))
		return
	}
	h.hub.Broadcast(ids, raw)
}

func (h *Handler) broadcastExcept(sess *match.Session, exceptID, msgType string, payload any) {
	ids := sess.ConnIDs()
	kept := ids[:0]
	for _, id := range ids {
		if id != exceptID {
			kept = append(kept, id)
		}
	}
	h.broadcastEvent(kept, msgType, payload)
}

func (h *Handler) noticeExcept(sess *match.Session, exceptID, notice, message string) {
	h.broadcastExcept(sess, exceptID, matchdto.TypeServerNotice, matchdto.ServerNoticeEvent{
		Notice:  notice,
		Message: message,
	})
}

func codeForCreateErr(err error) string {
	switch {
	case errors.Is(err, match.ErrShutdown):
		return matchdto.CodeShutdown
	case errors.Is(err, match.ErrRoomCapReached):
		return matchdto.CodeRoomCap
	default:
		return matchdto.CodeBadRequest
	}
}

func codeForJoinErr(err error) string {
	if errors.Is(err, match.ErrMatchNotFound) {
		return matchdto.CodeNotFound
	}
	return matchdto.CodeBadRequest
}

func rejectMessage(rej match.Reject) string {
	switch rej {
	case match.RejectNotPlaying:
		return "match is not in progress"
	case match.RejectNotParticipant:
		return "you are not seated in this match"
	case match.RejectOutOfTurn:
		return "not your turn"
	case match.RejectIllegalMove:
		return "illegal move"
	case match.RejectNoDrawOffer:
		return "no draw offer to answer"
	case match.RejectOwnDrawOffer:
		return "cannot accept your own draw offer"
	case match.RejectSeatTaken:
		return "seat already taken"
	default:
		return string(rej)
	}
}

func whiteScoreOf(r match.Result) float64 {
	switch r {
	case match.ResultWhiteWon:
		return 1.0
	case match.ResultBlackWon:
		return 0.0
	default:
		return 0.5
	}
}

func viewByToken(sess *match.Session, token string) *match.PlayerView {
	snap := sess.Snapshot()
	if snap.White != nil && snap.White.Token == token {
		return snap.White
	}
	if snap.Black != nil && snap.Black.Token == token {
		return snap.Black
	}
	return nil
}

func nameOfColor(sess *match.Session, c match.Color) string {
	snap := sess.Snapshot()
	if c == match.White && snap.White != nil {
		return snap.White.Name
	}
	if c == match.Black && snap.Black != nil {
		return snap.Black.Name
	}
	return string(c)
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxNameRunes {
		s = string(r[:maxNameRunes])
	}
	return s
}
