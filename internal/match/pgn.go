package match

import (
	"fmt"
	"strings"
	"time"
)

type pgnInput struct {
	White       string
	Black       string
	TimeControl string
	Date        time.Time
	MovesSAN    []string
	Verdict     *Verdict
}

// buildPGN renders a seven-tag-roster export of the game. Games still in
// progress get a "*" result.
func buildPGN(in pgnInput) string {
	result := "*"
	termination := "unterminated"
	if in.Verdict != nil {
		result = pgnResult(in.Verdict.Result)
		termination = strings.ToLower(string(in.Verdict.Reason))
	}

	var sb strings.Builder
	sb.WriteString("[Event \"Casual match\"]\n")
	sb.WriteString("[Site \"cheese-match-server\"]\n")
	y, m, d := in.Date.Date()
	sb.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", y, m, d))
	sb.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGNTag(in.White)))
	sb.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGNTag(in.Black)))
	sb.WriteString(fmt.Sprintf("[TimeControl \"%s\"]\n", sanitizePGNTag(in.TimeControl)))
	sb.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", termination))
	sb.WriteString(fmt.Sprintf("[Result \"%s\"]\n", result))
	sb.WriteString("\n")

	for i := 0; i < len(in.MovesSAN); i += 2 {
		sb.WriteString(fmt.Sprintf("%d. %s", i/2+1, in.MovesSAN[i]))
		if i+1 < len(in.MovesSAN) {
			sb.WriteString(" " + in.MovesSAN[i+1])
		}
		sb.WriteString(" ")
	}
	sb.WriteString(result)
	sb.WriteString("\n")
	return sb.String()
}

func pgnResult(r Result) string {
	switch r {
	case ResultWhiteWon:
		return "1-0"
	case ResultBlackWon:
		return "0-1"
	case ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// sanitizePGNTag strips characters that would break tag-pair quoting.
func sanitizePGNTag(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return s
}
