package matchdto

// Rejection codes carried by error events. These are part of the wire
// contract; clients branch on Code, Message is advisory.
const (
	CodeBadRequest     = "bad_request"
	CodeNotFound       = "not_found"
	CodeNotPlaying     = "not_playing"
	CodeNotParticipant = "not_participant"
	CodeOutOfTurn      = "out_of_turn"
	CodeIllegalMove    = "illegal_move"
	CodeNoDrawOffer    = "no_draw_offer"
	CodeOwnDrawOffer   = "own_draw_offer"
	CodeRoomCap        = "room_cap"
	CodeConnCap        = "conn_cap"
	CodeRateLimited    = "rate_limited"
	CodeShutdown       = "shutdown"
)

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Move    string `json:"move,omitempty"`
}
