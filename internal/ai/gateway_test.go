package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/suPer8Hu/mindflow/internal/common"
)

type scriptedProvider struct {
	reply string
	err   error
	calls int
	last  ChatRequest
	delay time.Duration
}

func (p *scriptedProvider) Chat(ctx context.Context, req ChatRequest) (string, error) {
	p.calls++
	p.last = req
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func newTestGateway(primary, fallback *scriptedProvider, opts ...GatewayOption) *Gateway {
	return NewGateway(
		NamedProvider{ID: "primary-model", Provider: primary},
		NamedProvider{ID: "fallback-model", Provider: fallback},
		opts...,
	)
}

func TestInvoke_PrimarySucceeds(t *testing.T) {
	p := &scriptedProvider{reply: "hello"}
	f := &scriptedProvider{reply: "unused"}
	g := newTestGateway(p, f)

	res, err := g.Invoke(context.Background(), Invocation{
		Prompt:    "hi",
		Context:   []Message{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}},
		System:    "sys",
		MaxTokens: 150,
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Text != "hello" || res.ModelID != "primary-model" || res.FallbackUsed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.calls != 0 {
		t.Fatalf("fallback called %d times", f.calls)
	}
	if n := len(p.last.Messages); n != 3 {
		t.Fatalf("expected 3 messages, got %d", n)
	}
	if last := p.last.Messages[2]; last.Role != RoleUser || last.Content != "hi" {
		t.Fatalf("prompt not appended last: %+v", last)
	}
	if p.last.System != "sys" || p.last.MaxTokens != 150 {
		t.Fatalf("request fields not forwarded: %+v", p.last)
	}
}

func TestInvoke_OverloadUsesFallbackOnce(t *testing.T) {
	p := &scriptedProvider{err: fmt.Errorf("gemini: %w", ErrOverloaded)}
	f := &scriptedProvider{reply: "from fallback"}
	g := newTestGateway(p, f)

	res, err := g.Invoke(context.Background(), Invocation{Prompt: "hi"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.FallbackUsed || res.ModelID != "fallback-model" || res.Text != "from fallback" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if p.calls != 1 || f.calls != 1 {
		t.Fatalf("calls primary=%d fallback=%d", p.calls, f.calls)
	}
}

func TestInvoke_NonRetryableSkipsFallback(t *testing.T) {
	p := &scriptedProvider{err: errors.New("invalid api key")}
	f := &scriptedProvider{reply: "unused"}
	g := newTestGateway(p, f)

	_, err := g.Invoke(context.Background(), Invocation{Prompt: "hi"})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if !errors.Is(err, common.ErrServiceUnavailable) {
		t.Fatalf("expected common.ErrServiceUnavailable in chain, got %v", err)
	}
	if f.calls != 0 {
		t.Fatalf("fallback must not run on non-retryable error")
	}
}

func TestInvoke_BothFail(t *testing.T) {
	p := &scriptedProvider{err: errors.New("Error 503, Message: The model is overloaded")}
	f := &scriptedProvider{err: fmt.Errorf("fallback: %w", ErrOverloaded)}
	g := newTestGateway(p, f)

	_, err := g.Invoke(context.Background(), Invocation{Prompt: "hi"})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if p.calls != 1 || f.calls != 1 {
		t.Fatalf("calls primary=%d fallback=%d", p.calls, f.calls)
	}
}

func TestInvoke_TimeoutCoversBothAttempts(t *testing.T) {
	p := &scriptedProvider{delay: 200 * time.Millisecond, reply: "late"}
	f := &scriptedProvider{reply: "unused"}
	g := newTestGateway(p, f, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := g.Invoke(context.Background(), Invocation{Prompt: "hi"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Fatalf("timeout not enforced")
	}
	if f.calls != 0 {
		t.Fatalf("fallback must not run after deadline")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", fmt.Errorf("x: %w", ErrOverloaded), true},
		{"genai 503", errors.New("Error 503, Message: unavailable"), true},
		{"status text", errors.New("RESOURCE_EXHAUSTED"), true},
		{"auth", errors.New("Error 401, Message: bad key"), false},
		{"status 503", statusError("ollama", 503, ""), true},
		{"status 400", statusError("ollama", 400, "bad request"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (Provider, error) {
		return &scriptedProvider{reply: model}, nil
	})

	g, err := reg.Build(context.Background(), Target{Provider: "fake", Model: "m1"}, Target{Provider: "FAKE", Model: "m2"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.PrimaryID() != "m1" || g.FallbackID() != "m2" {
		t.Fatalf("ids: %s %s", g.PrimaryID(), g.FallbackID())
	}

	if _, err := reg.Build(context.Background(), Target{Provider: "nope"}, Target{Provider: "fake"}); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
