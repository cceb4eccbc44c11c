// Package topics maintains the bounded stock of conversation topics. The
// stock learns passively from user utterances and supplies suggestions when
// the user asks for one or the conversation stalls.
package topics

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/akiyumeyou/oshaberi/internal/observe"
)

// DefaultPrompt is suggested when the stock is empty.
const DefaultPrompt = "今日はどんな一日でしたか？"

// minCandidateRunes is the exclusive minimum length for topic candidates.
// Anything this short is an acknowledgement, not a topic.
const minCandidateRunes = 5

// ackWords disqualify an utterance from becoming a topic.
var ackWords = []string{"うん", "はい", "そうですね", "なるほど"}

// Persister stores the whole topic list on every mutation. Implemented by
// the store package. Mutations are infrequent (human speech pace), so
// rewriting the list each time is fine.
type Persister interface {
	SaveTopics(ctx context.Context, topics []string) error
}

// Stock is the bounded, deduplicated, insertion-ordered topic set.
// Safe for concurrent use.
type Stock struct {
	mu      sync.Mutex
	items   []string
	index   map[string]struct{}
	maxSize int

	persister Persister
	metrics   *observe.Metrics
	log       *slog.Logger
}

// Option configures a Stock.
type Option func(*Stock)

// WithPersister installs durable storage for the stock.
func WithPersister(p Persister) Option {
	return func(s *Stock) { s.persister = p }
}

// WithMetrics installs metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Stock) { s.metrics = m }
}

// New creates a Stock capped at maxSize, seeded with the given topics
// (already-persisted state loaded at startup). Seed entries beyond the cap
// or duplicated are ignored.
func New(maxSize int, seed []string, opts ...Option) *Stock {
	s := &Stock{
		maxSize: maxSize,
		index:   make(map[string]struct{}),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	for _, t := range seed {
		if _, dup := s.index[t]; dup || len(s.items) >= maxSize {
			continue
		}
		s.items = append(s.items, t)
		s.index[t] = struct{}{}
	}
	return s
}

// Record offers a finalized user utterance as a topic candidate. Candidates
// are rejected when too short, when they are questions, when they consist of
// acknowledgement words, or when already stocked. Acceptance may evict the
// oldest topic and always persists the new list.
func (s *Stock) Record(text string) {
	text = strings.TrimSpace(text)
	if !isCandidate(text) {
		return
	}

	s.mu.Lock()
	if _, dup := s.index[text]; dup {
		s.mu.Unlock()
		return
	}
	s.items = append(s.items, text)
	s.index[text] = struct{}{}
	evicted := 0
	for len(s.items) > s.maxSize {
		oldest := s.items[0]
		s.items = s.items[1:]
		delete(s.index, oldest)
		evicted++
	}
	snapshot := make([]string, len(s.items))
	copy(snapshot, s.items)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TopicStockSize.Add(context.Background(), int64(1-evicted))
	}
	s.persist(snapshot)
}

// Pick returns a uniformly random stocked topic, or the default prompt when
// the stock is empty.
func (s *Stock) Pick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return DefaultPrompt
	}
	return s.items[rand.IntN(len(s.items))]
}

// Topics returns a copy of the stocked topics in insertion order.
func (s *Stock) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the current stock size.
func (s *Stock) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Stock) persist(snapshot []string) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveTopics(context.Background(), snapshot); err != nil {
		s.log.Warn("topic persistence failed", "error", err)
	}
}

// isCandidate applies the topic filter.
func isCandidate(text string) bool {
	if utf8.RuneCountInString(text) <= minCandidateRunes {
		return false
	}
	if strings.Contains(text, "？") || strings.Contains(text, "?") {
		return false
	}
	if consistsOfAcks(text) {
		return false
	}
	return true
}

// consistsOfAcks reports whether text is nothing but acknowledgement words
// and whitespace.
func consistsOfAcks(text string) bool {
	rest := text
	for _, w := range ackWords {
		rest = strings.ReplaceAll(rest, w, "")
	}
	return strings.TrimSpace(rest) == ""
}
