package chat

import (
	"context"
	"encoding/json"

	"github.com/suPer8Hu/mindflow/internal/ai"
	"github.com/suPer8Hu/mindflow/internal/observability"
)

// stringList accepts either a JSON array of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

type Mood struct {
	EmotionalState string     `json:"emotionalState"`
	Emotions       stringList `json:"emotions"`
	StressLevel    string     `json:"stressLevel"`
	Suggestions    stringList `json:"suggestions"`
	// Source is "model" when parsed from a reply, "default" otherwise.
	Source string `json:"source"`
}

func defaultMood() Mood {
	return Mood{
		EmotionalState: "neutral",
		Emotions:       stringList{"uncertainty"},
		StressLevel:    "medium",
		Suggestions:    stringList{"Continue the conversation to better understand their needs"},
		Source:         "default",
	}
}

type WellnessSuggestion struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	EstimatedTime string `json:"estimatedTime"`
	Difficulty    string `json:"difficulty"`
}

func defaultSuggestions() []WellnessSuggestion {
	return []WellnessSuggestion{{
		Title:         "Deep Breathing Exercise",
		Description:   "Take 5 minutes to practice deep breathing to help center yourself",
		Category:      "breathing",
		EstimatedTime: "5 minutes",
		Difficulty:    "easy",
	}}
}

// AnalyzeMood reads the same recent window a chat turn would. Unusable
// model output yields the neutral default rather than an error.
func (s *Service) AnalyzeMood(ctx context.Context, userID uint64, sessionID string) (Mood, error) {
	if _, err := s.repo.GetOwnedSession(ctx, userID, sessionID); err != nil {
		return Mood{}, err
	}
	return s.analyzeMood(ctx, sessionID)
}

func (s *Service) analyzeMood(ctx context.Context, sessionID string) (Mood, error) {
	recent, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, s.window)
	if err != nil {
		return Mood{}, err
	}
	if len(recent) == 0 {
		return defaultMood(), nil
	}
	msgs := make([]Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		msgs = append(msgs, recent[i])
	}

	log := observability.LoggerFromContext(ctx)
	out, err := s.gen.Invoke(ctx, ai.Invocation{Prompt: moodPrompt(msgs), MaxTokens: 300})
	if err != nil {
		log.Warn("mood analysis failed", "session_id", sessionID, "error", err)
		return defaultMood(), nil
	}
	mood, ok := ai.ParseJSON[Mood](out.Text)
	if !ok || mood.EmotionalState == "" {
		log.Warn("mood analysis returned unparsable output", "session_id", sessionID)
		return defaultMood(), nil
	}
	mood.Source = "model"
	return mood, nil
}

// GenerateWellnessSuggestions combines the caller's profile with the current
// mood of the session.
func (s *Service) GenerateWellnessSuggestions(ctx context.Context, userID uint64, sessionID string, profile map[string]any) ([]WellnessSuggestion, error) {
	if _, err := s.repo.GetOwnedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	mood, err := s.analyzeMood(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	log := observability.LoggerFromContext(ctx)
	out, err := s.gen.Invoke(ctx, ai.Invocation{Prompt: suggestionsPrompt(profile, mood), MaxTokens: 600})
	if err != nil {
		log.Warn("wellness suggestions failed", "session_id", sessionID, "error", err)
		return defaultSuggestions(), nil
	}

	if list, ok := ai.ParseJSON[[]WellnessSuggestion](out.Text); ok && len(list) > 0 {
		return list, nil
	}
	if wrapped, ok := ai.ParseJSON[struct {
		Suggestions []WellnessSuggestion `json:"suggestions"`
	}](out.Text); ok && len(wrapped.Suggestions) > 0 {
		return wrapped.Suggestions, nil
	}
	log.Warn("wellness suggestions returned unparsable output", "session_id", sessionID)
	return defaultSuggestions(), nil
}
