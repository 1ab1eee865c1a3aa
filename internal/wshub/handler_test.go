package wshub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

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

type wsHarness struct {
	srv       *httptest.Server
	cfg       *config.AppConfig
	sh        *shutdown.State
	admission *guard.Admission
	registry  *match.Registry
	mets      *metrics.Registry
	handler   *Handler
}

func newWSHarness(t *testing.T, mut func(*config.AppConfig)) *wsHarness {
	t.Helper()
	cfg := &config.AppConfig{
		RoomCap:            10,
		MaxConnsPerIP:      8,
		RateWindowMs:       1000,
		RateMaxMessages:    50,
		RateSweepSec:       60,
		DisconnectGraceSec: 30,
		WaitingTTLSec:      300,
		DrainTimeoutSec:    15,
		DrainPollMs:        500,
		ReconnectDelay:     5,
		TimeControl:        "10+0",
	}
	if mut != nil {
		mut(cfg)
	}

	mets := metrics.New()
	sh := shutdown.NewState()
	cg := crashguard.New(mets, nil)
	eng := match.NewEngine()
	reg := match.NewRegistry(eng, eng, cfg, sh, mets, nil)
	catalog, err := notices.Load()
	if err != nil {
		t.Fatalf("load notices: %v", err)
	}
	adm := guard.NewAdmission(cfg.MaxConnsPerIP, mets, nil)

	h := NewHandler(HandlerDeps{
		Cfg:       cfg,
		Hub:       NewHub(nil),
		Registry:  reg,
		Admission: adm,
		Limiter:   guard.NewRateLimiter(cfg.RateWindow(), cfg.RateMaxMessages, mets, nil),
		Profiles:  profile.NewService(profile.NewMemStore(), nil),
		Catalog:   catalog,
		Shutdown:  sh,
		Guard:     cg,
		Metrics:   mets,
	})

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)
	return &wsHarness{srv: srv, cfg: cfg, sh: sh, admission: adm, registry: reg, mets: mets, handler: h}
}

func (w *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(w.srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "test done") })
	return c
}

func send(t *testing.T, c *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := matchdto.Encode(msgType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func recv(t *testing.T, c *websocket.Conn, wantType string, out any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var env matchdto.Envelope
	if err := wsjson.Read(ctx, c, &env); err != nil {
		t.Fatalf("read (want %s): %v", wantType, err)
	}
	if env.Type != wantType {
		t.Fatalf("message type %q, want %q (data=%s)", env.Type, wantType, env.Data)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode %s: %v", wantType, err)
		}
	}
}

// startMatch runs the create/join handshake and returns both client conns
// with white as the creator.
func startMatch(t *testing.T, w *wsHarness) (white, black *websocket.Conn, matchID string) {
	t.Helper()
	white = w.dial(t)
	send(t, white, matchdto.TypeCreate, matchdto.CreateRequest{Name: "alice", Color: "white", TimeControl: "3+2"})
	var created matchdto.CreatedEvent
	recv(t, white, matchdto.TypeCreated, &created)
	if created.MatchID == "" || created.Token == "" || created.Color != "white" {
		t.Fatalf("created: %+v", created)
	}
	if created.InitialMs != 180000 || created.IncrementMs != 2000 {
		t.Fatalf("time control: %+v", created)
	}

	black = w.dial(t)
	send(t, black, matchdto.TypeJoin, matchdto.JoinRequest{MatchID: created.MatchID, Name: "bob"})

	var startWhite, startBlack matchdto.GameStartEvent
	recv(t, white, matchdto.TypeGameStart, &startWhite)
	recv(t, black, matchdto.TypeGameStart, &startBlack)
	if startWhite.Color != "white" || startBlack.Color != "black" {
		t.Fatalf("seat colors: white=%q black=%q", startWhite.Color, startBlack.Color)
	}
	if startBlack.Token == "" {
		t.Fatal("joiner got no token")
	}
	if startWhite.White.Name != "alice" || startWhite.Black.Name != "bob" {
		t.Fatalf("seats: %+v", startWhite)
	}
	return white, black, created.MatchID
}

func TestCreateJoinAndMoveOverWebSocket(t *testing.T) {
	w := newWSHarness(t, nil)
	white, black, matchID := startMatch(t, w)

	send(t, white, matchdto.TypeMove, matchdto.MoveRequest{Move: "e2e4"})
	var mvWhite, mvBlack matchdto.MoveEvent
	recv(t, white, matchdto.TypeMovePlayed, &mvWhite)
	recv(t, black, matchdto.TypeMovePlayed, &mvBlack)
	if mvWhite.SAN != "e4" || mvWhite.Color != "white" || mvWhite.Turn != "black" {
		t.Fatalf("move event: %+v", mvWhite)
	}
	if mvBlack.SAN != "e4" {
		t.Fatalf("peer move event: %+v", mvBlack)
	}

	send(t, black, matchdto.TypeState, nil)
	var st matchdto.StateEvent
	recv(t, black, matchdto.TypeStateSnapshot, &st)
	if st.MatchID != matchID || st.State != "PLAYING" || len(st.MovesSAN) != 1 || st.MovesSAN[0] != "e4" {
		t.Fatalf("state: %+v", st)
	}
}

func TestIllegalAndOutOfTurnMovesOverWebSocket(t *testing.T) {
	w := newWSHarness(t, nil)
	white, black, _ := startMatch(t, w)

	send(t, white, matchdto.TypeMove, matchdto.MoveRequest{Move: "zz9"})
	var errEv matchdto.ErrorEvent
	recv(t, white, matchdto.TypeError, &errEv)
	if errEv.Code != matchdto.CodeIllegalMove || errEv.Move != "zz9" {
		t.Fatalf("illegal move error: %+v", errEv)
	}

	send(t, black, matchdto.TypeMove, matchdto.MoveRequest{Move: "e7e5"})
	recv(t, black, matchdto.TypeError, &errEv)
	if errEv.Code != matchdto.CodeOutOfTurn {
		t.Fatalf("out of turn error: %+v", errEv)
	}
}

func TestResignationSettlesRatings(t *testing.T) {
	w := newWSHarness(t, nil)
	white, black, _ := startMatch(t, w)

	send(t, black, matchdto.TypeResign, nil)
	var overWhite, overBlack matchdto.GameOverEvent
	recv(t, white, matchdto.TypeGameOver, &overWhite)
	recv(t, black, matchdto.TypeGameOver, &overBlack)

	if overWhite.Result != "white_won" || overWhite.Reason != "resignation" || overWhite.Winner != "white" {
		t.Fatalf("game over: %+v", overWhite)
	}
	if !strings.Contains(overWhite.PGN, `[Result "1-0"]`) {
		t.Fatalf("pgn: %q", overWhite.PGN)
	}
	if len(overBlack.Ratings) != 2 {
		t.Fatalf("ratings: %+v", overBlack.Ratings)
	}
	if overBlack.Ratings[0].Name != "alice" || overBlack.Ratings[0].Rating != 1212 || overBlack.Ratings[0].Delta != 12 {
		t.Fatalf("winner rating: %+v", overBlack.Ratings[0])
	}
	if overBlack.Ratings[1].Rating != 1188 {
		t.Fatalf("loser rating: %+v", overBlack.Ratings[1])
	}

	// The match is settled, late moves bounce.
	send(t, white, matchdto.TypeMove, matchdto.MoveRequest{Move: "e2e4"})
	var errEv matchdto.ErrorEvent
	recv(t, white, matchdto.TypeError, &errEv)
	if errEv.Code != matchdto.CodeNotPlaying {
		t.Fatalf("post-game move error: %+v", errEv)
	}
}

func TestDrawNegotiationOverWebSocket(t *testing.T) {
	w := newWSHarness(t, nil)
	white, black, _ := startMatch(t, w)

	send(t, white, matchdto.TypeDrawOffer, nil)
	var offerW, offerB matchdto.DrawOfferEvent
	recv(t, white, matchdto.TypeDrawOffered, &offerW)
	recv(t, black, matchdto.TypeDrawOffered, &offerB)
	if offerB.By != "white" {
		t.Fatalf("offer: %+v", offerB)
	}

	send(t, black, matchdto.TypeDrawDecline, nil)
	var declined matchdto.DrawDeclinedEvent
	recv(t, white, matchdto.TypeDrawDeclined, &declined)
	recv(t, black, matchdto.TypeDrawDeclined, &declined)
	if declined.By != "black" {
		t.Fatalf("decline: %+v", declined)
	}

	// Accept without a standing offer is refused.
	send(t, black, matchdto.TypeDrawAccept, nil)
	var errEv matchdto.ErrorEvent
	recv(t, black, matchdto.TypeError, &errEv)
	if errEv.Code != matchdto.CodeNoDrawOffer {
		t.Fatalf("accept without offer: %+v", errEv)
	}

	// A fresh offer accepted by the peer ends the game as a draw.
	send(t, black, matchdto.TypeDrawOffer, nil)
	recv(t, white, matchdto.TypeDrawOffered, &offerW)
	recv(t, black, matchdto.TypeDrawOffered, &offerB)

	send(t, white, matchdto.TypeDrawAccept, nil)
	var over matchdto.GameOverEvent
	recv(t, white, matchdto.TypeGameOver, &over)
	recv(t, black, matchdto.TypeGameOver, &over)
	if over.Result != "draw" || over.Reason != "agreement" {
		t.Fatalf("draw verdict: %+v", over)
	}
}

func TestDisconnectAndReconnectFlow(t *testing.T) {
	w := newWSHarness(t, nil)
	white, black, matchID := startMatch(t, w)

	// Grab black's durable token before dropping the socket.
	sess, ok := w.registry.Get(matchID)
	if !ok {
		t.Fatal("match missing from registry")
	}
	snap := sess.Snapshot()
	blackToken := snap.Black.Token

	_ = black.Close(websocket.StatusGoingAway, "dropping")

	var peer matchdto.PeerStatusEvent
	recv(t, white, matchdto.TypePeerStatus, &peer)
	if peer.Color != "black" || peer.Connected {
		t.Fatalf("peer status: %+v", peer)
	}
	var notice matchdto.ServerNoticeEvent
	recv(t, white, matchdto.TypeServerNotice, &notice)
	if notice.Notice != "peer_disconnected" || !strings.Contains(notice.Message, "bob") {
		t.Fatalf("disconnect notice: %+v", notice)
	}

	// Same player, new socket.
	relink := w.dial(t)
	send(t, relink, matchdto.TypeReconnect, matchdto.ReconnectRequest{MatchID: matchID, Token: blackToken})
	var rec matchdto.StateEvent
	recv(t, relink, matchdto.TypeReconnected, &rec)
	if rec.MatchID != matchID || rec.State != "PLAYING" {
		t.Fatalf("reconnected state: %+v", rec)
	}

	recv(t, white, matchdto.TypePeerStatus, &peer)
	if peer.Color != "black" || !peer.Connected {
		t.Fatalf("peer back status: %+v", peer)
	}
	recv(t, white, matchdto.TypeServerNotice, &notice)
	if notice.Notice != "peer_reconnected" {
		t.Fatalf("reconnect notice: %+v", notice)
	}

	// The relinked socket really owns the seat: black can play after
	// white's opening move.
	send(t, white, matchdto.TypeMove, matchdto.MoveRequest{Move: "e2e4"})
	var mv matchdto.MoveEvent
	recv(t, white, matchdto.TypeMovePlayed, &mv)
	recv(t, relink, matchdto.TypeMovePlayed, &mv)

	send(t, relink, matchdto.TypeMove, matchdto.MoveRequest{Move: "e7e5"})
	recv(t, relink, matchdto.TypeMovePlayed, &mv)
	if mv.SAN != "e5" || mv.Color != "black" {
		t.Fatalf("post-reconnect move: %+v", mv)
	}
}

func TestRateLimitOverWebSocket(t *testing.T) {
	w := newWSHarness(t, func(cfg *config.AppConfig) { cfg.RateMaxMessages = 3 })
	c := w.dial(t)

	for i := 0; i < 3; i++ {
		send(t, c, matchdto.TypeState, nil)
		var errEv matchdto.ErrorEvent
		recv(t, c, matchdto.TypeError, &errEv)
		if errEv.Code != matchdto.CodeBadRequest {
			t.Fatalf("message %d: %+v", i, errEv)
		}
	}

	send(t, c, matchdto.TypeState, nil)
	var errEv matchdto.ErrorEvent
	recv(t, c, matchdto.TypeError, &errEv)
	if errEv.Code != matchdto.CodeRateLimited {
		t.Fatalf("over budget: %+v", errEv)
	}
}

func TestConnectionCapPerIP(t *testing.T) {
	w := newWSHarness(t, func(cfg *config.AppConfig) { cfg.MaxConnsPerIP = 1 })
	first := w.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(w.srv.URL, "http"), nil)
	if err == nil {
		t.Fatal("second connection from same IP accepted")
	}

	// Closing the first slot frees the cap for a fresh connection.
	_ = first.Close(websocket.StatusNormalClosure, "done")
	deadline := time.Now().Add(2 * time.Second)
	for w.admission.Count("127.0.0.1") > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if w.admission.Count("127.0.0.1") != 0 {
		t.Fatal("admission slot not released after close")
	}
	_ = w.dial(t)
}

func TestShutdownRefusesHandshake(t *testing.T) {
	w := newWSHarness(t, nil)
	w.sh.Begin()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(w.srv.URL, "http"), nil)
	if err == nil {
		t.Fatal("handshake accepted during shutdown")
	}
}

func TestServerNoticesReachAllClients(t *testing.T) {
	w := newWSHarness(t, nil)
	white, black, _ := startMatch(t, w)

	w.handler.AnnounceShutdown()
	var notice matchdto.ServerNoticeEvent
	recv(t, white, matchdto.TypeServerNotice, &notice)
	if notice.Notice != "shutdown" || notice.ReconnectDelaySec != 5 {
		t.Fatalf("shutdown notice: %+v", notice)
	}
	if !strings.Contains(notice.Message, "5 seconds") {
		t.Fatalf("notice text: %q", notice.Message)
	}
	recv(t, black, matchdto.TypeServerNotice, &notice)
	if notice.Notice != "shutdown" {
		t.Fatalf("peer shutdown notice: %+v", notice)
	}

	w.handler.AnnounceCrash()
	recv(t, white, matchdto.TypeServerNotice, &notice)
	if notice.Notice != "crash" || notice.ReconnectDelaySec != 5 {
		t.Fatalf("crash notice: %+v", notice)
	}
}
