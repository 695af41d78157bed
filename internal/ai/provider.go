package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one model call: an optional system instruction, the
// conversation so far ending with the new user prompt, and an output budget.
type ChatRequest struct {
	System    string
	Messages  []Message
	MaxTokens int
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ErrOverloaded is the retryable class: the backend reported capacity
// trouble. Only this class triggers the fallback model.
var ErrOverloaded = errors.New("model overloaded")

// IsRetryable reports whether err belongs to the overload class.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOverloaded) {
		return true
	}
	return looksOverloaded(err.Error())
}

func looksOverloaded(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "overloaded") ||
		strings.Contains(m, "unavailable") ||
		strings.Contains(m, "resource_exhausted") ||
		strings.Contains(m, "error 503") ||
		strings.Contains(m, "error 429")
}

// statusError turns a non-2xx provider response into an error, tagging the
// overload class.
func statusError(provider string, status int, body string) error {
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = fmt.Sprintf("status %d", status)
	}
	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests || looksOverloaded(msg) {
		return fmt.Errorf("%s: %w: %s", provider, ErrOverloaded, msg)
	}
	return fmt.Errorf("%s: status %d: %s", provider, status, msg)
}

// withSystem returns messages with the system instruction prepended as a
// system-role message, for chat APIs that take it inline.
func withSystem(req ChatRequest) []Message {
	out := make([]Message, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		out = append(out, Message{Role: RoleSystem, Content: req.System})
	}
	return append(out, req.Messages...)
}
