package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/newspulse-ai/newspulse/internal/config"
)

const (
	defaultMaxRetries = 2
	defaultRetryDelay = 500 * time.Millisecond
)

// Router selects a provider for each request and falls back to the
// next one in the chain when a provider fails.
type Router struct {
	mu         sync.RWMutex
	providers  map[string]Provider
	chain      []string
	maxRetries int
	retryDelay time.Duration
}

// RouterOption configures the router.
type RouterOption func(*Router)

// WithMaxRetries sets how many times a single provider is retried
// before falling through to the next one.
func WithMaxRetries(n int) RouterOption {
	return func(r *Router) {
		r.maxRetries = n
	}
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) RouterOption {
	return func(r *Router) {
		r.retryDelay = d
	}
}

// NewRouter creates an empty router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		providers:  make(map[string]Provider),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRouterFromConfig builds a router from the LLM configuration,
// registering every provider that has an API key. The primary provider
// goes first in the fallback chain.
func NewRouterFromConfig(cfg config.LLMConfig, opts ...RouterOption) (*Router, error) {
	r := NewRouter(opts...)

	if cfg.GeminiKey != "" {
		var gopts []GeminiOption
		if cfg.Primary == ProviderGemini && cfg.Model != "" {
			gopts = append(gopts, WithGeminiModel(cfg.Model))
		}
		r.Register(NewGeminiProvider(cfg.GeminiKey, gopts...))
	}
	if cfg.OpenAIKey != "" {
		var oopts []OpenAIOption
		if cfg.Primary == ProviderOpenAI && cfg.Model != "" {
			oopts = append(oopts, WithOpenAIModel(cfg.Model))
		}
		r.Register(NewOpenAIProvider(cfg.OpenAIKey, oopts...))
	}

	if len(r.chain) == 0 {
		return nil, ErrNoProviders
	}

	if cfg.Primary != "" {
		if err := r.SetPrimary(cfg.Primary); err != nil {
			slog.Warn("primary provider not available, using fallback order",
				"primary", cfg.Primary, "chain", r.chain)
		}
	}
	return r, nil
}

// Register adds a provider to the end of the fallback chain.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.chain = append(r.chain, name)
	}
	r.providers[name] = p
}

// SetPrimary moves the named provider to the front of the chain.
func (r *Router) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("%w: provider %q not registered", ErrInvalidModel, name)
	}
	chain := []string{name}
	for _, n := range r.chain {
		if n != name {
			chain = append(chain, n)
		}
	}
	r.chain = chain
	return nil
}

// Providers returns the fallback chain in order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.chain))
	copy(out, r.chain)
	return out
}

// Provider returns a registered provider by name.
func (r *Router) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Generate tries each provider in the chain until one succeeds.
// Transient failures on a provider are retried with linear backoff
// before moving to the next provider.
func (r *Router) Generate(ctx context.Context, messages []Message, opts *GenerateOptions) (*Response, error) {
	r.mu.RLock()
	chain := make([]string, len(r.chain))
	copy(chain, r.chain)
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, name := range chain {
		p, ok := r.Provider(name)
		if !ok {
			continue
		}
		resp, err := r.generateWithRetry(ctx, p, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("provider failed, trying next in chain",
			"provider", name, "error", err)
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

func (r *Router) generateWithRetry(ctx context.Context, p Provider, messages []Message, opts *GenerateOptions) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.retryDelay * time.Duration(attempt)):
			}
		}
		resp, err := p.Generate(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if isNonRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// isNonRetryable reports whether retrying the same provider is
// pointless (bad key, bad model, oversized context).
func isNonRetryable(err error) bool {
	return errors.Is(err, ErrNoAPIKey) ||
		errors.Is(err, ErrInvalidModel) ||
		errors.Is(err, ErrContextLength) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
