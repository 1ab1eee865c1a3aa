package match

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-match-server/internal/config"
	"github.com/park285/cheese-match-server/internal/guard"
	"github.com/park285/cheese-match-server/internal/metrics"
	"github.com/park285/cheese-match-server/internal/shutdown"
)

var (
	ErrShutdown       = errors.New("server is shutting down")
	ErrRoomCapReached = errors.New("room capacity reached")
	ErrMatchNotFound  = errors.New("match not found")
	ErrMatchFull      = errors.New("match already has two players")
	ErrBadToken       = errors.New("unknown player token")
)

const matchIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CreateParams describes the first player of a new match.
type CreateParams struct {
	Name    string
	Rating  int
	Color   ColorChoice
	Control string // "M+S", falls back to the configured default
	ConnID  string
}

// JoinParams describes the second player entering an existing match.
type JoinParams struct {
	MatchID string
	Name    string
	Rating  int
	ConnID  string
}

// Stats is a point-in-time census for the status endpoint.
type Stats struct {
	Sessions int `json:"sessions"`
	Waiting  int `json:"waiting"`
	Playing  int `json:"playing"`
	Finished int `json:"finished"`
}

// Registry owns every live session. Room capacity is enforced under the
// registry lock so a create can never race past the cap.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byConn   map[string]string // connID -> matchID

	oracle Oracle
	source PositionSource
	cfg    *config.AppConfig
	sh     *shutdown.State

	// OnFinish fires for verdicts reached by the sweep (abandonment);
	// synchronous finishes are returned to the caller instead.
	OnFinish func(*Session, Verdict)
	// OnExpire fires when a Waiting session is collected unfilled.
	OnExpire func(*Session)

	now  func() time.Time
	log  *zap.Logger
	mets *metrics.Registry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewRegistry(oracle Oracle, source PositionSource, cfg *config.AppConfig, sh *shutdown.State, mets *metrics.Registry, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
		oracle:   oracle,
		source:   source,
		cfg:      cfg,
		sh:       sh,
		now:      time.Now,
		log:      log,
		mets:     mets,
	}
}

// CreateMatch opens a Waiting session with the creator seated. The
// shutdown and capacity checks share the lock with the map insert.
func (r *Registry) CreateMatch(p CreateParams) (*Session, PlayerView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sh.InProgress() {
		return nil, PlayerView{}, ErrShutdown
	}
	if !guard.CanCreateRoom(len(r.sessions), r.cfg.RoomCap) {
		r.mets.Inc(metrics.RejectedRoomCap)
		r.log.Warn("registry_room_cap",
			zap.Int("cap", r.cfg.RoomCap),
			zap.String("name", p.Name),
		)
		return nil, PlayerView{}, ErrRoomCapReached
	}

	id := r.newMatchID()
	player := &Player{
		Token:     uuid.NewString(),
		Name:      p.Name,
		Rating:    p.Rating,
		Color:     resolveColor(p.Color),
		ConnID:    p.ConnID,
		Connected: true,
	}
	tc := ParseTimeControl(p.Control, r.cfg.TimeControl)
	s := newSession(id, r.oracle, r.source.StartPosition(), tc, player, r.now, r.log, r.mets)
	r.sessions[id] = s
	if p.ConnID != "" {
		r.byConn[p.ConnID] = id
	}
	r.mets.Inc(metrics.SessionsStarted)
	r.log.Info("registry_create",
		zap.String("match_id", id),
		zap.String("name", p.Name),
		zap.String("color", string(player.Color)),
		zap.String("time_control", tc.Text),
		zap.Int("sessions", len(r.sessions)),
	)
	return s, viewOf(player), nil
}

// JoinMatch seats the second player and flips the session to Playing.
func (r *Registry) JoinMatch(p JoinParams) (*Session, PlayerView, error) {
	r.mu.Lock()
	s, ok := r.sessions[p.MatchID]
	r.mu.Unlock()
	if !ok {
		return nil, PlayerView{}, ErrMatchNotFound
	}

	player := &Player{
		Token:     uuid.NewString(),
		Name:      p.Name,
		Rating:    p.Rating,
		ConnID:    p.ConnID,
		Connected: true,
	}
	if rej := s.Join(player); rej != RejectNone {
		if rej == RejectSeatTaken {
			return nil, PlayerView{}, ErrMatchFull
		}
		return nil, PlayerView{}, ErrMatchNotFound
	}

	if p.ConnID != "" {
		r.mu.Lock()
		r.byConn[p.ConnID] = p.MatchID
		r.mu.Unlock()
	}
	return s, viewOf(player), nil
}

// Reconnect rebinds a token to a fresh connection in any session state.
func (r *Registry) Reconnect(matchID, token, connID string) (*Session, *PlayerView, error) {
	r.mu.Lock()
	s, ok := r.sessions[matchID]
	r.mu.Unlock()
	if !ok {
		return nil, nil, ErrMatchNotFound
	}
	view := s.HandleReconnect(token, connID)
	if view == nil {
		return nil, nil, ErrBadToken
	}
	if connID != "" {
		r.mu.Lock()
		r.byConn[connID] = matchID
		r.mu.Unlock()
	}
	return s, view, nil
}

// Get returns the session by match id.
func (r *Registry) Get(matchID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[matchID]
	return s, ok
}

// HandleDisconnect routes a dropped connection to its session, which
// starts that player's grace period.
func (r *Registry) HandleDisconnect(connID string) (*Session, Color, bool) {
	r.mu.Lock()
	id, ok := r.byConn[connID]
	if ok {
		delete(r.byConn, connID)
	}
	s := r.sessions[id]
	r.mu.Unlock()
	if !ok || s == nil {
		return nil, "", false
	}
	c, flagged := s.HandleDisconnect(connID)
	return s, c, flagged
}

// Start launches the periodic sweep.
func (r *Registry) Start(interval time.Duration) {
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it.
func (r *Registry) Stop() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
	r.stopCh = nil
}

// Sweep makes one maintenance pass: abandonment verdicts for players
// past grace, collection of stale Waiting sessions, and removal of
// Finished sessions nobody is attached to anymore.
func (r *Registry) Sweep() {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	grace := r.cfg.DisconnectGrace()
	ttl := r.cfg.WaitingTTL()
	r.mu.Unlock()

	for _, s := range list {
		if v := s.CheckDisconnectTimeout(grace); v != nil {
			if r.OnFinish != nil {
				r.OnFinish(s, *v)
			}
			continue
		}
		if s.waitingExpired(ttl) {
			r.remove(s.ID())
			r.log.Info("registry_waiting_expired", zap.String("match_id", s.ID()))
			if r.OnExpire != nil {
				r.OnExpire(s)
			}
			continue
		}
		if s.collectible() {
			r.remove(s.ID())
			r.log.Debug("registry_collect", zap.String("match_id", s.ID()))
		}
	}
}

// Count returns the number of live sessions, Finished included until
// collection.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Stats tallies sessions by state.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	st := Stats{Sessions: len(list)}
	for _, s := range list {
		switch s.State() {
		case StateWaiting:
			st.Waiting++
		case StatePlaying:
			st.Playing++
		case StateFinished:
			st.Finished++
		}
	}
	return st
}

// Clear drops every session. Used by the shutdown cleanup hook.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.sessions)
	r.sessions = make(map[string]*Session)
	r.byConn = make(map[string]string)
	if n > 0 {
		r.log.Info("registry_clear", zap.Int("sessions", n))
	}
	return n
}

func (r *Registry) remove(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, matchID)
	for conn, id := range r.byConn {
		if id == matchID {
			delete(r.byConn, conn)
		}
	}
}

// newMatchID generates a short shareable code. Caller holds r.mu.
func (r *Registry) newMatchID() string {
	for attempt := 0; attempt < 5; attempt++ {
		b := make([]byte, 6)
		for i := range b {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(matchIDAlphabet))))
			if err != nil {
				return fmt.Sprintf("M-%06d", r.now().UnixNano()%1000000)
			}
			b[i] = matchIDAlphabet[n.Int64()]
		}
		id := "M-" + string(b)
		if _, exists := r.sessions[id]; !exists {
			return id
		}
	}
	return "M-" + uuid.NewString()[:8]
}

func resolveColor(c ColorChoice) Color {
	switch c {
	case ColorWhite:
		return White
	case ColorBlack:
		return Black
	}
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil || n.Int64() == 0 {
		return White
	}
	return Black
}
