package match

// Position is an opaque board handle. It is produced and consumed only by
// the Oracle implementation that owns it; the session never inspects it.
type Position interface{}

// ApplyResult carries an accepted move back from the oracle.
type ApplyResult struct {
	Position Position
	SAN      string
	UCI      string
}

// Terminal classifies a position after a move.
type Terminal struct {
	Over   bool
	Result Result
	Reason Reason
}

// Oracle is the rules authority. The session forwards move text verbatim
// and interprets the verdict; it never parses moves itself.
type Oracle interface {
	// ApplyMove validates and applies moveText (UCI or SAN). The second
	// return is false when the text is malformed or the move illegal, in
	// which case the position is untouched.
	ApplyMove(pos Position, moveText string) (ApplyResult, bool)
	ClassifyTerminal(pos Position) Terminal
	CurrentTurn(pos Position) Color
	ExchangeFormat(pos Position) string
}

// PositionSource supplies fresh start positions for new sessions.
type PositionSource interface {
	StartPosition() Position
}
