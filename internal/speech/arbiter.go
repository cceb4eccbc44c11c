package speech

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/akiyumeyou/oshaberi/internal/observe"
	"github.com/akiyumeyou/oshaberi/pkg/provider/tts"
)

// Recorder receives every utterance the arbiter actually speaks.
// Implemented by dialogue.History.
type Recorder interface {
	AppendSystem(text string)
}

// Arbiter serialises all outgoing speech so exactly one playback is audible
// at a time. Short backchannels arriving while speech is active are queued
// FIFO instead of dropped; everything else waits its turn.
//
// The speaking flag is released only after a playback confirms completion,
// never speculatively, and is force-released on synthesis failure so the
// system can never end up permanently "stuck speaking".
type Arbiter struct {
	provider tts.Provider
	profile  tts.VoiceProfile
	recorder Recorder
	metrics  *observe.Metrics
	log      *slog.Logger

	// maxQueueRunes is the longest backchannel the queue accepts.
	maxQueueRunes int

	mu       sync.Mutex
	cond     *sync.Cond
	speaking bool
	queue    []string
}

// ArbiterOption configures an Arbiter.
type ArbiterOption func(*Arbiter)

// WithRecorder installs the turn-history recorder.
func WithRecorder(r Recorder) ArbiterOption {
	return func(a *Arbiter) { a.recorder = r }
}

// WithMetrics installs metric instruments.
func WithMetrics(m *observe.Metrics) ArbiterOption {
	return func(a *Arbiter) { a.metrics = m }
}

// WithBackchannelMaxRunes overrides the queueability threshold.
func WithBackchannelMaxRunes(n int) ArbiterOption {
	return func(a *Arbiter) { a.maxQueueRunes = n }
}

// NewArbiter creates an Arbiter speaking through provider with the given
// voice profile.
func NewArbiter(provider tts.Provider, profile tts.VoiceProfile, opts ...ArbiterOption) *Arbiter {
	a := &Arbiter{
		provider:      provider,
		profile:       profile,
		log:           slog.Default(),
		maxQueueRunes: 10,
	}
	a.cond = sync.NewCond(&a.mu)
	for _, o := range opts {
		o(a)
	}
	return a
}

// Speaking reports whether a playback is currently active.
func (a *Arbiter) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaking
}

// Speak plays a full response. It is never dropped: if speech is already
// active the call waits for the speaking state, then plays. With
// blocking=false the wait and playback happen in the background.
func (a *Arbiter) Speak(ctx context.Context, text string, blocking bool) error {
	if !blocking {
		go func() {
			if err := a.Speak(context.WithoutCancel(ctx), text, true); err != nil {
				a.log.Warn("async playback failed", "error", err)
			}
		}()
		return nil
	}

	a.mu.Lock()
	for a.speaking {
		a.cond.Wait()
	}
	a.speaking = true
	a.mu.Unlock()

	return a.playActive(ctx, text, true)
}

// SayBackchannel plays a short acknowledgement. If speech is already active
// the message is queued when it is short enough and not already pending,
// and silently dropped otherwise.
func (a *Arbiter) SayBackchannel(ctx context.Context, text string, blocking bool) error {
	a.mu.Lock()
	if a.speaking {
		if utf8.RuneCountInString(text) <= a.maxQueueRunes && !slices.Contains(a.queue, text) {
			a.queue = append(a.queue, text)
			a.mu.Unlock()
			a.log.Debug("backchannel queued", "text", text)
			if a.metrics != nil {
				a.metrics.RecordBackchannel(ctx, "queued")
			}
			return nil
		}
		a.mu.Unlock()
		a.log.Debug("backchannel dropped", "text", text)
		if a.metrics != nil {
			a.metrics.RecordBackchannel(ctx, "dropped")
		}
		return nil
	}
	a.speaking = true
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordBackchannel(ctx, "spoken")
	}
	return a.playActive(ctx, text, blocking)
}

// Reset purges the pending backchannel queue. Queued messages are not
// replayed into the next session. An active playback is left to finish.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = nil
}

// playActive performs one playback. The caller must already own the speaking
// state; playActive releases it on every exit path, success or failure.
func (a *Arbiter) playActive(ctx context.Context, text string, blocking bool) error {
	if a.recorder != nil {
		a.recorder.AppendSystem(text)
	}
	segments := SplitLongText(Normalize(text))

	if !blocking {
		go func() {
			if err := a.playSegments(context.WithoutCancel(ctx), segments); err != nil {
				a.log.Warn("playback failed", "error", err)
			}
			a.finish()
		}()
		return nil
	}

	err := a.playSegments(ctx, segments)
	a.finish()
	return err
}

// playSegments renders segments one after another, waiting for each playback
// to complete before starting the next.
func (a *Arbiter) playSegments(ctx context.Context, segments []string) error {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	for _, seg := range segments {
		pb, err := a.provider.Start(ctx, seg, a.profile)
		if err != nil {
			if a.metrics != nil {
				a.metrics.RecordProviderError(ctx, "tts", "start")
			}
			return fmt.Errorf("speech: start playback: %w", err)
		}
		select {
		case err := <-pb.Done():
			if err != nil {
				if a.metrics != nil {
					a.metrics.RecordProviderError(ctx, "tts", "playback")
				}
				return fmt.Errorf("speech: playback: %w", err)
			}
		case <-ctx.Done():
			_ = pb.Stop()
			<-pb.Done()
			return ctx.Err()
		}
	}
	return nil
}

// finish releases the speaking state. If a backchannel is pending it is
// dequeued and played next without ever dropping the state to false in
// between, preserving the single-active-playback invariant.
func (a *Arbiter) finish() {
	a.mu.Lock()
	if len(a.queue) > 0 {
		next := a.queue[0]
		a.queue = a.queue[1:]
		a.mu.Unlock()
		go func() {
			if err := a.playActive(context.Background(), next, true); err != nil {
				a.log.Warn("queued backchannel playback failed", "error", err)
			}
		}()
		return
	}
	a.speaking = false
	a.cond.Broadcast()
	a.mu.Unlock()
}
