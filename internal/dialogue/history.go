// Package dialogue implements the conversational core: turn segmentation,
// intent classification, response routing, and the foreground turn loop.
package dialogue

import (
	"sync"
	"time"
)

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerSystem Speaker = "system"
)

// Utterance is one finalized turn in the conversation. Immutable once created.
type Utterance struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

// History is the append-only turn history of the active session.
// It is safe for concurrent use; the segmentation engine appends user turns
// while playback-completion monitors append system turns.
type History struct {
	mu      sync.RWMutex
	entries []Utterance
	now     func() time.Time
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{now: time.Now}
}

// AppendUser records a finalized user utterance.
func (h *History) AppendUser(text string) {
	h.append(SpeakerUser, text)
}

// AppendSystem records a spoken system utterance.
func (h *History) AppendSystem(text string) {
	h.append(SpeakerSystem, text)
}

func (h *History) append(sp Speaker, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Utterance{Speaker: sp, Text: text, Timestamp: h.now()})
}

// Entries returns a copy of all utterances in order.
func (h *History) Entries() []Utterance {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Utterance, len(h.entries))
	copy(out, h.entries)
	return out
}

// Last returns the most recent utterance, or false if the history is empty.
func (h *History) Last() (Utterance, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.entries) == 0 {
		return Utterance{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// LastSystem returns the most recent system utterance, or false if none exists.
func (h *History) LastSystem() (Utterance, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Speaker == SpeakerSystem {
			return h.entries[i], true
		}
	}
	return Utterance{}, false
}

// Len returns the number of recorded utterances.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Reset discards all recorded utterances.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
