// Package duration parses the subset of ISO 8601 durations used by N42
// timing elements: a single seconds component, "PT<seconds>S".
package duration

import (
	"math"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/FocuswithJustin/n42kit/core/errors"
)

// secondsGrammar matches "PT" Number "S" and nothing else.
//
//nolint:govet // participle grammar tags are not standard struct tags
type secondsGrammar struct {
	Seconds string `parser:"\"PT\" @Number \"S\""`
}

// durationLexer has no rule for signs or other designators, so "P1D",
// "PT5M" and "PT-1S" fail at lexing.
var durationLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Designator", Pattern: `PT|S`},
	{Name: "Number", Pattern: `(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`},
})

var durationParser = participle.MustBuild[secondsGrammar](
	participle.Lexer(durationLexer),
)

// Parse converts "PT<seconds>S" into seconds. Surrounding whitespace is
// ignored. Any other notation, including multi-component durations, returns
// a *errors.FormatError.
func Parse(s string) (float64, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return 0, errors.NewFormat("duration", s)
	}

	parsed, err := durationParser.ParseString("", text)
	if err != nil {
		return 0, &errors.FormatError{Kind: "duration", Value: s, Err: err}
	}

	seconds, err := strconv.ParseFloat(parsed.Seconds, 64)
	if err != nil || math.IsInf(seconds, 0) || math.IsNaN(seconds) || seconds < 0 {
		return 0, errors.NewFormat("duration", s)
	}
	return seconds, nil
}

// Format renders seconds in the notation accepted by Parse.
func Format(seconds float64) string {
	return "PT" + strconv.FormatFloat(seconds, 'f', -1, 64) + "S"
}
