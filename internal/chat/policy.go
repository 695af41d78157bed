package chat

import (
	"strings"
	"unicode"

	"github.com/suPer8Hu/mindflow/internal/safety"
)

// Output budgets in tokens.
const (
	BudgetCrisis   = 400
	BudgetBrief    = 150
	BudgetDetailed = 300
	BudgetDefault  = 200
)

var distressWords = []string{
	"depressed", "depression", "anxiety", "anxious", "panic", "hopeless",
	"overwhelmed", "lonely", "scared", "worthless", "crying",
}

var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "hiya": true, "thanks": true,
	"thank": true, "thx": true, "ok": true, "okay": true, "cool": true,
	"bye": true, "goodbye": true, "morning": true, "night": true,
}

var complexWords = map[string]bool{
	"why": true, "how": true, "advice": true, "should": true, "explain": true,
	"help": true, "strategies": true, "cope": true, "difference": true,
}

// Budget picks the output budget for a message. Rules are checked in order
// and the first hit wins: distress, short greeting, long or complex, default.
func Budget(text string) int {
	lower := strings.ToLower(text)

	if safety.Detect(text).IsCrisis {
		return BudgetCrisis
	}
	for _, w := range distressWords {
		if strings.Contains(lower, w) {
			return BudgetCrisis
		}
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	length := len([]rune(strings.TrimSpace(text)))

	if length < 50 && anyIn(words, greetingWords) {
		return BudgetBrief
	}
	if length > 100 || anyIn(words, complexWords) {
		return BudgetDetailed
	}
	return BudgetDefault
}

func anyIn(words []string, set map[string]bool) bool {
	for _, w := range words {
		if set[w] {
			return true
		}
	}
	return false
}
