package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/akiyumeyou/oshaberi/internal/observe"
	"github.com/akiyumeyou/oshaberi/pkg/provider/llm"
)

// ErrAllBackendsFailed is returned when every backend in an [LLMChain] failed
// or sat behind an open breaker.
var ErrAllBackendsFailed = errors.New("resilience: all llm backends failed")

// chainEntry pairs a backend with its breaker.
type chainEntry struct {
	name    string
	backend llm.Provider
	breaker *Breaker
}

// LLMChain implements [llm.Provider] with failover across multiple chat
// backends. Each backend gets its own breaker; a tripped primary is skipped
// without waiting for it to time out again.
type LLMChain struct {
	entries []chainEntry
	cfg     BreakerConfig
	log     *slog.Logger
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLMChain)(nil)

// ChainOption configures an [LLMChain].
type ChainOption func(*LLMChain)

// WithChainMetrics records failover events on m.
func WithChainMetrics(m *observe.Metrics) ChainOption {
	return func(c *LLMChain) { c.metrics = m }
}

// NewLLMChain returns a chain with primary as the preferred backend. The
// breaker config applies to every backend; the Name field is overwritten per
// entry.
func NewLLMChain(primaryName string, primary llm.Provider, cfg BreakerConfig, opts ...ChainOption) *LLMChain {
	c := &LLMChain{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	c.add(primaryName, primary)
	return c
}

// AddFallback appends a backend tried after all earlier entries. Not safe to
// call concurrently with Complete; register everything during startup.
func (c *LLMChain) AddFallback(name string, backend llm.Provider) {
	c.add(name, backend)
}

func (c *LLMChain) add(name string, backend llm.Provider) {
	cfg := c.cfg
	cfg.Name = name
	c.entries = append(c.entries, chainEntry{
		name:    name,
		backend: backend,
		breaker: NewBreaker(cfg),
	})
}

// Complete implements [llm.Provider]. Backends are tried in registration
// order; entries with an open breaker are skipped.
func (c *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for i := range c.entries {
		e := &c.entries[i]

		var resp *llm.CompletionResponse
		err := e.breaker.Do(func() error {
			var innerErr error
			resp, innerErr = e.backend.Complete(ctx, req)
			return innerErr
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, ErrBreakerOpen) {
			c.log.Debug("llm backend skipped", "backend", e.name)
			continue
		}
		c.log.Warn("llm backend failed, trying next", "backend", e.name, "error", err)
		if c.metrics != nil {
			c.metrics.RecordProviderError(ctx, e.name, "llm")
		}
		if ctx.Err() != nil {
			// The caller is gone; later backends would fail the same way.
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
