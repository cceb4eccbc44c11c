// Package mock provides a scripted llm.Provider for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/akiyumeyou/oshaberi/pkg/provider/llm"
)

// Provider is a scripted llm.Provider. Replies are returned in order; when
// the script runs out the last reply repeats. Err, when set, is returned
// instead.
type Provider struct {
	mu       sync.Mutex
	Replies  []string
	Err      error
	next     int
	requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Replies) == 0 {
		return nil, errors.New("mock llm: no scripted replies")
	}
	i := p.next
	if i >= len(p.Replies) {
		i = len(p.Replies) - 1
	}
	p.next++
	return &llm.CompletionResponse{Content: p.Replies[i]}, nil
}

// Requests returns every request seen so far, in order.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns the number of Complete invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
