package matchdto

// Outbound message types.
const (
	TypeCreated       = "created"
	TypeGameStart     = "game_start"
	TypeMovePlayed    = "move"
	TypeDrawOffered   = "draw_offer"
	TypeDrawDeclined  = "draw_declined"
	TypeGameOver      = "game_over"
	TypePeerStatus    = "peer_status"
	TypeReconnected   = "reconnected"
	TypeStateSnapshot = "state"
	TypeProfileInfo   = "profile"
	TypeError         = "error"
	TypeServerNotice  = "server_notice"
)

type PlayerInfo struct {
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

type CreatedEvent struct {
	MatchID     string `json:"match_id"`
	Token       string `json:"token"`
	Color       string `json:"color"`
	TimeControl string `json:"time_control"`
	InitialMs   int64  `json:"initial_ms"`
	IncrementMs int64  `json:"increment_ms"`
}

type GameStartEvent struct {
	MatchID     string     `json:"match_id"`
	Token       string     `json:"token,omitempty"`
	Color       string     `json:"color,omitempty"`
	White       PlayerInfo `json:"white"`
	Black       PlayerInfo `json:"black"`
	TimeControl string     `json:"time_control"`
	FEN         string     `json:"fen"`
	Turn        string     `json:"turn"`
	WhiteMs     int64      `json:"white_ms"`
	BlackMs     int64      `json:"black_ms"`
}

type MoveEvent struct {
	MatchID string `json:"match_id"`
	Color   string `json:"color"`
	SAN     string `json:"san"`
	UCI     string `json:"uci"`
	FEN     string `json:"fen"`
	Turn    string `json:"turn"`
	WhiteMs int64  `json:"white_ms"`
	BlackMs int64  `json:"black_ms"`
}

type DrawOfferEvent struct {
	MatchID string `json:"match_id"`
	By      string `json:"by"`
}

type DrawDeclinedEvent struct {
	MatchID string `json:"match_id"`
	By      string `json:"by"`
}

type RatingUpdate struct {
	Name   string `json:"name"`
	Rating int    `json:"rating"`
	Delta  int    `json:"delta"`
}

type GameOverEvent struct {
	MatchID string         `json:"match_id"`
	Result  string         `json:"result"`
	Reason  string         `json:"reason"`
	Winner  string         `json:"winner,omitempty"`
	FEN     string         `json:"fen"`
	WhiteMs int64          `json:"white_ms"`
	BlackMs int64          `json:"black_ms"`
	PGN     string         `json:"pgn,omitempty"`
	Ratings []RatingUpdate `json:"ratings,omitempty"`
}

type PeerStatusEvent struct {
	MatchID   string `json:"match_id"`
	Color     string `json:"color"`
	Connected bool   `json:"connected"`
}

type StateEvent struct {
	MatchID       string   `json:"match_id"`
	State         string   `json:"state"`
	FEN           string   `json:"fen"`
	Turn          string   `json:"turn,omitempty"`
	WhiteMs       int64    `json:"white_ms"`
	BlackMs       int64    `json:"black_ms"`
	MovesSAN      []string `json:"moves_san,omitempty"`
	DrawOfferedBy string   `json:"draw_offered_by,omitempty"`
	Result        string   `json:"result,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	PGN           string   `json:"pgn,omitempty"`
}

type ProfileEvent struct {
	Name        string `json:"name"`
	Rating      int    `json:"rating"`
	GamesPlayed int    `json:"games_played"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Draws       int    `json:"draws"`
	Streak      int    `json:"streak,omitempty"`
	StreakType  string `json:"streak_type,omitempty"`
}

type ServerNoticeEvent struct {
	Notice            string `json:"notice"`
	Message           string `json:"message"`
	ReconnectDelaySec int    `json:"reconnect_delay_sec,omitempty"`
}
