package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/suPer8Hu/mindflow/internal/common"
	"github.com/suPer8Hu/mindflow/internal/observability"
)

// ErrServiceUnavailable is returned by the gateway once every eligible
// model has failed.
var ErrServiceUnavailable = fmt.Errorf("generative model: %w", common.ErrServiceUnavailable)

type NamedProvider struct {
	ID       string
	Provider Provider
}

// Invocation is the gateway's input: the new prompt, the normalized context
// that precedes it, the system instruction and the output budget.
type Invocation struct {
	Prompt    string
	Context   []Message
	System    string
	MaxTokens int
}

type Result struct {
	Text         string
	ModelID      string
	FallbackUsed bool
}

// Gateway calls the primary model and, only when the primary reports
// overload, the fallback model exactly once. It never persists anything.
type Gateway struct {
	primary  NamedProvider
	fallback *NamedProvider
	timeout  time.Duration
}

type GatewayOption func(*Gateway)

// WithTimeout bounds one Invoke, primary and fallback attempts together.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

func NewGateway(primary NamedProvider, fallback NamedProvider, opts ...GatewayOption) *Gateway {
	g := &Gateway{primary: primary}
	if fallback.Provider != nil {
		fb := fallback
		g.fallback = &fb
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) PrimaryID() string { return g.primary.ID }

func (g *Gateway) FallbackID() string {
	if g.fallback == nil {
		return ""
	}
	return g.fallback.ID
}

func (g *Gateway) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	log := observability.LoggerFromContext(ctx)

	msgs := make([]Message, 0, len(inv.Context)+1)
	msgs = append(msgs, inv.Context...)
	msgs = append(msgs, Message{Role: RoleUser, Content: inv.Prompt})
	req := ChatRequest{System: inv.System, Messages: msgs, MaxTokens: inv.MaxTokens}

	text, err := g.call(ctx, g.primary, req)
	if err == nil {
		return Result{Text: text, ModelID: g.primary.ID}, nil
	}

	if !IsRetryable(err) || g.fallback == nil || ctx.Err() != nil {
		log.Error("model call failed", "model", g.primary.ID, "error", err)
		return Result{}, fmt.Errorf("%w: %s: %w", ErrServiceUnavailable, g.primary.ID, err)
	}

	log.Warn("primary model overloaded, trying fallback",
		"model", g.primary.ID, "fallback", g.fallback.ID, "error", err)

	text, ferr := g.call(ctx, *g.fallback, req)
	if ferr != nil {
		log.Error("fallback model failed", "model", g.fallback.ID, "error", ferr)
		return Result{}, fmt.Errorf("%w: %s overloaded, fallback %s: %w", ErrServiceUnavailable, g.primary.ID, g.fallback.ID, ferr)
	}
	return Result{Text: text, ModelID: g.fallback.ID, FallbackUsed: true}, nil
}

// Generate is Invoke for one-shot prompts with no conversation context.
func (g *Gateway) Generate(ctx context.Context, prompt string, maxTokens int) (Result, error) {
	return g.Invoke(ctx, Invocation{Prompt: prompt, MaxTokens: maxTokens})
}

func (g *Gateway) call(ctx context.Context, np NamedProvider, req ChatRequest) (string, error) {
	text, err := np.Provider.Chat(ctx, req)
	switch {
	case err == nil:
		observability.ModelCalls.WithLabelValues(np.ID, "ok").Inc()
	case IsRetryable(err):
		observability.ModelCalls.WithLabelValues(np.ID, "overloaded").Inc()
	default:
		observability.ModelCalls.WithLabelValues(np.ID, "error").Inc()
	}
	return text, err
}
