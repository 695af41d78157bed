package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/suPer8Hu/mindflow/internal/ai"
	"github.com/suPer8Hu/mindflow/internal/observability"
)

// A session earns a title once it holds this many stored messages, which is
// after its second full exchange.
const titleThreshold = 3

const (
	titleSourceMessages = 6
	maxTitleRunes       = 128
)

// maybeGenerateTitle labels an untitled session that has reached the
// threshold. Failures leave the title empty so a later turn retries; the
// conditional update keeps the first stored title.
func (s *Service) maybeGenerateTitle(ctx context.Context, sess *Session) string {
	if sess.Title != "" || sess.MessageCount < titleThreshold {
		return ""
	}
	log := observability.LoggerFromContext(ctx)

	msgs, err := s.repo.ListFirstMessages(ctx, sess.SessionID, titleSourceMessages)
	if err != nil {
		log.Warn("load messages for title", "session_id", sess.SessionID, "error", err)
		return ""
	}

	out, err := s.gen.Invoke(ctx, ai.Invocation{Prompt: titlePrompt(msgs), MaxTokens: 32})
	if err != nil {
		log.Warn("title generation failed", "session_id", sess.SessionID, "error", err)
		return ""
	}

	title := cleanTitle(out.Text)
	if title == "" {
		return ""
	}
	won, err := s.repo.SetTitleIfEmpty(ctx, sess.SessionID, title)
	if err != nil {
		log.Warn("store title", "session_id", sess.SessionID, "error", err)
		return ""
	}
	if !won {
		return ""
	}
	sess.Title = title
	return title
}

func cleanTitle(raw string) string {
	t := strings.TrimSpace(raw)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimPrefix(t, "Title:")
	t = strings.Trim(strings.TrimSpace(t), "\"'*` ")
	if utf8.RuneCountInString(t) > maxTitleRunes {
		t = string([]rune(t)[:maxTitleRunes])
	}
	return t
}
