// Package server wires the HTTP surface: the websocket endpoint plus
// operational routes for health, status and spectator match lookups.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"github.com/park285/cheese-match-server/internal/config"
	"github.com/park285/cheese-match-server/internal/match"
	"github.com/park285/cheese-match-server/internal/metrics"
	"github.com/park285/cheese-match-server/internal/shutdown"
)

type Deps struct {
	Cfg      *config.AppConfig
	WS       http.HandlerFunc
	Registry *match.Registry
	Metrics  *metrics.Registry
	Shutdown *shutdown.State
	Log      *zap.Logger
}

type Server struct {
	http *http.Server
	log  *zap.Logger
}

func New(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Get("/ws", d.WS)
	r.Get("/healthz", handleHealth(d.Shutdown))
	r.Get("/status", handleStatus(d.Registry, d.Metrics, d.Shutdown))
	r.Get("/matches/{match_id}", handleMatchInfo(d.Registry))

	return &Server{
		http: &http.Server{
			Addr:              d.Cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start blocks serving requests until the listener is shut down.
func (s *Server) Start() error {
	s.log.Info("http_listen", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes the listener. Hijacked websocket connections are not
// touched; the hub owns those.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func handleHealth(sh *shutdown.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sh.InProgress() {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleStatus(reg *match.Registry, mets *metrics.Registry, sh *shutdown.State) http.HandlerFunc {
	type statusBody struct {
		Sessions     match.Stats       `json:"sessions"`
		Counters     map[string]uint64 `json:"counters"`
		ShuttingDown bool              `json:"shutting_down"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, statusBody{
			Sessions:     reg.Stats(),
			Counters:     mets.Snapshot(),
			ShuttingDown: sh.InProgress(),
		})
	}
}

// handleMatchInfo serves a spectator view of one match. Player tokens
// never appear here.
func handleMatchInfo(reg *match.Registry) http.HandlerFunc {
	type seat struct {
		Name      string `json:"name"`
		Rating    int    `json:"rating"`
		Connected bool   `json:"connected"`
	}
	type matchBody struct {
		MatchID     string   `json:"match_id"`
		State       string   `json:"state"`
		TimeControl string   `json:"time_control"`
		White       *seat    `json:"white,omitempty"`
		Black       *seat    `json:"black,omitempty"`
		FEN         string   `json:"fen"`
		Turn        string   `json:"turn,omitempty"`
		WhiteMs     int64    `json:"white_ms"`
		BlackMs     int64    `json:"black_ms"`
		MovesSAN    []string `json:"moves_san,omitempty"`
		Result      string   `json:"result,omitempty"`
		Reason      string   `json:"reason,omitempty"`
	}
	seatOf := func(pv *match.PlayerView) *seat {
		if pv == nil {
			return nil
		}
		return &seat{Name: pv.Name, Rating: pv.Rating, Connected: pv.Connected}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := reg.Get(chi.URLParam(r, "match_id"))
		if !ok {
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "match not found"})
			return
		}
		snap := sess.Snapshot()
		body := matchBody{
			MatchID:     snap.ID,
			State:       string(snap.State),
			TimeControl: snap.TimeControl,
			White:       seatOf(snap.White),
			Black:       seatOf(snap.Black),
			FEN:         snap.FEN,
			WhiteMs:     snap.WhiteMs,
			BlackMs:     snap.BlackMs,
			MovesSAN:    snap.MovesSAN,
		}
		if snap.State == match.StatePlaying {
			body.Turn = string(snap.Turn)
		}
		if snap.Verdict != nil {
			body.Result = string(snap.Verdict.Result)
			body.Reason = string(snap.Verdict.Reason)
		}
		respondJSON(w, http.StatusOK, body)
	}
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
