package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider talks to the Gemini API through the genai SDK.
type GeminiProvider struct {
	client    *genai.Client
	modelName string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: GEMINI_API_KEY must be set")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return newGeminiProvider(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, model)
}

func newGeminiProvider(ctx context.Context, cc *genai.ClientConfig, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiProvider{client: client, modelName: model}, nil
}

// thinkingConfigFor switches thinking off on 2.5 flash models. Thinking
// tokens are charged to MaxOutputTokens, and the turn budgets are sized for
// visible text only. Pro models reject a zero budget; older models do not think.
func thinkingConfigFor(model string) *genai.ThinkingConfig {
	if !strings.Contains(model, "2.5-flash") {
		return nil
	}
	zero := int32(0)
	return &genai.ThinkingConfig{ThinkingBudget: &zero}
}

func (g *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	temp := float32(0.7)
	topP := float32(0.95)
	topK := float32(40)

	cfg := &genai.GenerateContentConfig{
		Temperature:    &temp,
		TopP:           &topP,
		TopK:           &topK,
		ThinkingConfig: thinkingConfigFor(g.modelName),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		// genai reports HTTP failures as "Error <code>, Message: ..., Status: ..."
		if looksOverloaded(err.Error()) {
			return "", fmt.Errorf("gemini %s: %w: %v", g.modelName, ErrOverloaded, err)
		}
		return "", fmt.Errorf("gemini %s: %w", g.modelName, err)
	}

	// a reply cut at the budget is still a reply
	text := res.Text()
	if strings.TrimSpace(text) == "" {
		if truncated(res) {
			return "", fmt.Errorf("gemini %s: output budget of %d tokens spent before any text", g.modelName, req.MaxTokens)
		}
		return "", fmt.Errorf("gemini %s: empty text", g.modelName)
	}
	return text, nil
}

func truncated(res *genai.GenerateContentResponse) bool {
	return len(res.Candidates) > 0 && res.Candidates[0] != nil && res.Candidates[0].FinishReason == genai.FinishReasonMaxTokens
}
