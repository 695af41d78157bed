package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry maps a provider name ("gemini", "ollama", "openrouter") to a
// factory; the gateway's primary and fallback are both built from it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s (registered: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(ctx, model)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Target names one model on one provider.
type Target struct {
	Provider string
	Model    string
}

// Build resolves primary and fallback targets into a Gateway.
func (r *Registry) Build(ctx context.Context, primary, fallback Target, opts ...GatewayOption) (*Gateway, error) {
	p, err := r.Get(ctx, primary.Provider, primary.Model)
	if err != nil {
		return nil, fmt.Errorf("primary model: %w", err)
	}
	f, err := r.Get(ctx, fallback.Provider, fallback.Model)
	if err != nil {
		return nil, fmt.Errorf("fallback model: %w", err)
	}
	return NewGateway(
		NamedProvider{ID: primary.Model, Provider: p},
		NamedProvider{ID: fallback.Model, Provider: f},
		opts...,
	), nil
}
