package moderation

import (
	"context"
	"strings"

	"github.com/suPer8Hu/mindflow/internal/language"
	"github.com/suPer8Hu/mindflow/internal/observability"
	"github.com/suPer8Hu/mindflow/internal/safety"
)

const (
	ReasonCrisis      = "crisis/high-magnitude: requires immediate review"
	ReasonNegative    = "negative sentiment: requires review"
	ReasonApproved    = "content approved"
	ReasonUnavailable = "moderation unavailable: approved by default"
)

type Decision struct {
	Approved   bool     `json:"approved"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence"`
	Signal     Analysis `json:"signal"`
}

// Decide is the pure decision function. First match wins:
// crisis indicators or (score < -0.3 and magnitude > 0.5) reject at 0.9,
// score < -0.5 rejects at 0.6, everything else is approved at 0.8.
func Decide(sig language.Signal, indicators []string) Decision {
	a := Analysis{Score: sig.Score, Magnitude: sig.Magnitude, Available: true}
	switch {
	case len(indicators) > 0 || (sig.Score < -0.3 && sig.Magnitude > 0.5):
		return Decision{Approved: false, Reason: ReasonCrisis, Confidence: 0.9, Signal: a}
	case sig.Score < -0.5:
		return Decision{Approved: false, Reason: ReasonNegative, Confidence: 0.6, Signal: a}
	default:
		return Decision{Approved: true, Reason: ReasonApproved, Confidence: 0.8, Signal: a}
	}
}

var harmfulWords = []string{"hate", "stupid", "idiot", "worthless", "useless"}

// toxicity is an informational 0..1 score stored alongside the decision for
// reviewers; it does not take part in Decide.
func toxicity(text string, sig language.Signal) float64 {
	score := 0.0
	if sig.Score < -0.5 {
		score += 0.3
	}
	if sig.Magnitude > 0.8 && sig.Score < 0 {
		score += 0.2
	}
	lower := strings.ToLower(text)
	for _, w := range harmfulWords {
		if strings.Contains(lower, w) {
			score += 0.1
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Scorer pulls a sentiment signal and applies Decide. When the analyzer is
// unusable the content is approved and the cause logged.
type Scorer struct {
	analyzer language.Analyzer
}

func NewScorer(analyzer language.Analyzer) *Scorer {
	return &Scorer{analyzer: analyzer}
}

func (s *Scorer) Score(ctx context.Context, text string, crisis safety.Result) Decision {
	var d Decision
	sig, err := s.analyze(ctx, text)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("sentiment analysis failed, approving by default", "error", err)
		d = Decision{Approved: true, Reason: ReasonUnavailable, Confidence: 0}
		if crisis.IsCrisis {
			// lexical crisis signal does not depend on the analyzer
			d = Decision{Approved: false, Reason: ReasonCrisis, Confidence: 0.9}
		}
	} else {
		d = Decide(sig, crisis.Indicators)
		d.Signal.Toxicity = toxicity(text, sig)
	}

	outcome := "approved"
	if !d.Approved {
		outcome = "rejected"
	}
	if !d.Signal.Available {
		outcome += "_default"
	}
	observability.ModerationDecisions.WithLabelValues(outcome).Inc()
	return d
}

func (s *Scorer) analyze(ctx context.Context, text string) (language.Signal, error) {
	if s.analyzer == nil {
		return language.Signal{}, errNoAnalyzer
	}
	return s.analyzer.Analyze(ctx, text)
}
