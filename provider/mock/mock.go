// Package mock implements an in-process provider.Provider for exercising
// the Planner's racing algorithm without a network dependency.
package mock

import (
	"context"
	"time"

	"github.com/clawforge/clawforge/provider"
)

// Provider returns a configured outcome after an optional delay, letting
// tests construct deterministic races between fast/slow and ok/error
// providers.
type Provider struct {
	name    string
	delay   time.Duration
	content string
	tokens  int64
	err     error
}

// Option configures a Provider.
type Option func(*Provider)

// WithDelay sets how long Complete sleeps (or waits for ctx cancellation)
// before returning.
func WithDelay(d time.Duration) Option {
	return func(p *Provider) { p.delay = d }
}

// WithError makes Complete always fail with err.
func WithError(err error) Option {
	return func(p *Provider) { p.err = err }
}

// WithTokens sets the reported TokensUsed on success.
func WithTokens(n int64) Option {
	return func(p *Provider) { p.tokens = n }
}

// New constructs a mock Provider named name that returns content on
// success.
func New(name, content string, opts ...Option) *Provider {
	p := &Provider{name: name, content: content, tokens: 1}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.name }

// Complete implements provider.Provider. Honors ctx cancellation during
// the configured delay so the Planner's best-effort loser-cancellation is
// exercisable in tests.
func (p *Provider) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return provider.Response{}, ctx.Err()
		}
	}
	if p.err != nil {
		return provider.Response{}, p.err
	}
	return provider.Response{
		Content:    p.content,
		Provider:   p.name,
		Model:      req.Model,
		TokensUsed: p.tokens,
	}, nil
}
