package matchdto

import "encoding/json"

// Envelope is the framing for every message in both directions.
// Data holds the type-specific payload, absent for bare commands.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode frames a payload into an envelope ready for the wire. A nil
// payload produces a bare command envelope.
func Encode(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Inbound message types.
const (
	TypeCreate      = "create"
	TypeJoin        = "join"
	TypeReconnect   = "reconnect"
	TypeMove        = "move"
	TypeResign      = "resign"
	TypeDrawOffer   = "draw_offer"
	TypeDrawAccept  = "draw_accept"
	TypeDrawDecline = "draw_decline"
	TypeState       = "state"
	TypeProfile     = "profile"
)

type CreateRequest struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	TimeControl string `json:"time_control,omitempty"`
}

type JoinRequest struct {
	MatchID string `json:"match_id"`
	Name    string `json:"name"`
}

type ReconnectRequest struct {
	MatchID string `json:"match_id"`
	Token   string `json:"token"`
}

type MoveRequest struct {
	Move string `json:"move"`
}

type ProfileRequest struct {
	Name string `json:"name,omitempty"`
}
