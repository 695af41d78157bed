package chat

import "github.com/suPer8Hu/mindflow/internal/ai"

const defaultWindowSize = 20

// Normalize turns the tail of a session log into a context the models
// accept: at most window entries, starting with a user entry, strictly
// alternating. Entries that repeat the previous retained role are dropped.
// Normalize(Normalize(x, n), n) == Normalize(x, n).
func Normalize(entries []ai.Message, window int) []ai.Message {
	if window <= 0 {
		window = defaultWindowSize
	}
	if len(entries) > window {
		entries = entries[len(entries)-window:]
	}

	start := 0
	for start < len(entries) && entries[start].Role != ai.RoleUser {
		start++
	}

	out := make([]ai.Message, 0, len(entries)-start)
	for _, e := range entries[start:] {
		if len(out) > 0 && out[len(out)-1].Role == e.Role {
			continue
		}
		out = append(out, e)
	}
	return out
}

// toContext maps stored entries (oldest first) onto model roles.
func toContext(msgs []Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		role := ai.RoleUser
		if m.Role == RoleAgent {
			role = ai.RoleAssistant
		}
		out = append(out, ai.Message{Role: role, Content: m.Content})
	}
	return out
}

// contextFor builds the gateway context from recent rows in DESC order.
// A trailing user entry is cut because the new message is sent as the prompt.
func contextFor(recentDesc []Message, window int) []ai.Message {
	asc := make([]Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		asc = append(asc, recentDesc[i])
	}
	ctx := Normalize(toContext(asc), window)
	if n := len(ctx); n > 0 && ctx[n-1].Role == ai.RoleUser {
		ctx = ctx[:n-1]
	}
	return ctx
}
