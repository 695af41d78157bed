// Package safety holds the lexical crisis classifier that runs ahead of every
// remote call on both the chat and the forum path.
package safety

import (
	"strings"
)

type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Result is the outcome of Detect. Indicators lists every matched phrase in
// lexicon order, high-severity phrases first.
type Result struct {
	IsCrisis   bool     `json:"is_crisis"`
	Indicators []string `json:"indicators"`
	Severity   Severity `json:"severity"`
}

var highSeverityPhrases = []string{
	"suicide",
	"suicidal",
	"kill myself",
	"end my life",
	"end it all",
	"want to die",
	"better off dead",
	"no point living",
	"not worth living",
	"overdose",
}

// Bare "crisis", "emergency" and "help me" are left out: they match ordinary
// requests and would route them away from the model.
var mediumSeverityPhrases = []string{
	"hurt myself",
	"self harm",
	"self-harm",
	"cutting",
	"can't take it anymore",
	"cant take it anymore",
	"can't go on",
	"give up on everything",
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

// Detect is a pure function: case-insensitive substring match against the
// two lexicons. High wins over medium.
func Detect(text string) Result {
	lower := apostrophes.Replace(strings.ToLower(text))

	var indicators []string
	severity := SeverityNone

	for _, p := range highSeverityPhrases {
		if strings.Contains(lower, p) {
			indicators = append(indicators, p)
			severity = SeverityHigh
		}
	}
	for _, p := range mediumSeverityPhrases {
		if strings.Contains(lower, p) {
			indicators = append(indicators, p)
			if severity == SeverityNone {
				severity = SeverityMedium
			}
		}
	}

	return Result{
		IsCrisis:   severity != SeverityNone,
		Indicators: indicators,
		Severity:   severity,
	}
}
