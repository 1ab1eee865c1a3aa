package match

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Engine is the Oracle backed by the corentings chess library.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

type enginePosition struct {
	game *nchess.Game
}

func (e *Engine) StartPosition() Position {
	return &enginePosition{game: nchess.NewGame()}
}

// ApplyMove tries UCI first, then SAN, mirroring the inputs players
// actually type. A move that fails to decode or to apply leaves the game
// untouched; Decode only parses the text, legality is the Move call's.
func (e *Engine) ApplyMove(pos Position, moveText string) (ApplyResult, bool) {
	p := asEnginePosition(pos)
	if p == nil {
		return ApplyResult{}, false
	}
	raw := strings.TrimSpace(moveText)
	if raw == "" {
		return ApplyResult{}, false
	}
	before := p.game.Position()

	uci := strings.ToLower(raw)
	if mv, err := (nchess.UCINotation{}).Decode(before, uci); err == nil {
		if err := p.game.Move(mv, nil); err != nil {
			return ApplyResult{}, false
		}
		san := nchess.AlgebraicNotation{}.Encode(before, mv)
		return ApplyResult{Position: p, SAN: san, UCI: uci}, true
	}

	if err := p.game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
		return ApplyResult{}, false
	}
	last := lastMove(p.game)
	if last == nil {
		return ApplyResult{}, false
	}
	return ApplyResult{
		Position: p,
		SAN:      nchess.AlgebraicNotation{}.Encode(before, last),
		UCI:      last.String(),
	}, true
}

func (e *Engine) ClassifyTerminal(pos Position) Terminal {
	p := asEnginePosition(pos)
	if p == nil {
		return Terminal{}
	}
	switch p.game.Outcome() {
	case nchess.WhiteWon:
		return Terminal{Over: true, Result: ResultWhiteWon, Reason: reasonFromMethod(p.game.Method())}
	case nchess.BlackWon:
		return Terminal{Over: true, Result: ResultBlackWon, Reason: reasonFromMethod(p.game.Method())}
	case nchess.Draw:
		return Terminal{Over: true, Result: ResultDraw, Reason: reasonFromMethod(p.game.Method())}
	default:
		return Terminal{}
	}
}

func (e *Engine) CurrentTurn(pos Position) Color {
	p := asEnginePosition(pos)
	if p == nil {
		return White
	}
	return colorFrom(p.game.Position().Turn())
}

func (e *Engine) ExchangeFormat(pos Position) string {
	p := asEnginePosition(pos)
	if p == nil {
		return ""
	}
	return p.game.FEN()
}

func asEnginePosition(pos Position) *enginePosition {
	p, ok := pos.(*enginePosition)
	if !ok || p == nil || p.game == nil {
		return nil
	}
	return p
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func colorFrom(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}

// reasonFromMethod matches on the library's method name rather than its
// constants so five-fold and seventy-five-move endings collapse into the
// repetition and fifty-move reasons.
func reasonFromMethod(m nchess.Method) Reason {
	ms := strings.ToLower(m.String())
	switch {
	case strings.Contains(ms, "checkmate"):
		return ReasonCheckmate
	case strings.Contains(ms, "stalemate"):
		return ReasonStalemate
	case strings.Contains(ms, "insufficient"):
		return ReasonInsufficientMaterial
	case strings.Contains(ms, "repetition"):
		return ReasonRepetition
	case strings.Contains(ms, "move"):
		return ReasonFiftyMove
	default:
		return ReasonCheckmate
	}
}
