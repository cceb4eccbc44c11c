// Package mock provides scripted stt implementations for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/akiyumeyou/oshaberi/pkg/provider/stt"
)

// Session is a scripted stt.SessionHandle. Tests push events with Emit and
// control the flush result via FlushText.
type Session struct {
	mu        sync.Mutex
	events    chan stt.Event
	closed    bool
	FlushText string
	FlushErr  error

	// FlushCalls counts Flush invocations.
	FlushCalls int
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession creates a Session with the given event buffer capacity.
func NewSession(buf int) *Session {
	return &Session{events: make(chan stt.Event, buf)}
}

// Emit pushes an event to the session's stream. Safe to call from any
// goroutine until Close.
func (s *Session) Emit(ev stt.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// SendAudio implements stt.SessionHandle. Audio is discarded.
func (s *Session) SendAudio([]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock stt: session is closed")
	}
	return nil
}

// Events implements stt.SessionHandle.
func (s *Session) Events() <-chan stt.Event { return s.events }

// Flush implements stt.SessionHandle.
func (s *Session) Flush(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCalls++
	text := s.FlushText
	s.FlushText = ""
	return text, s.FlushErr
}

// Close implements stt.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Provider is a scripted stt.Provider that hands out pre-built sessions in
// order. When the script is exhausted StartStream returns an error.
type Provider struct {
	mu       sync.Mutex
	Sessions []*Session
	next     int
}

var _ stt.Provider = (*Provider)(nil)

// StartStream implements stt.Provider.
func (p *Provider) StartStream(context.Context, stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.Sessions) {
		return nil, errors.New("mock stt: no more scripted sessions")
	}
	s := p.Sessions[p.next]
	p.next++
	return s, nil
}
