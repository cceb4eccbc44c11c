package dialogue

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/akiyumeyou/oshaberi/internal/observe"
	"github.com/akiyumeyou/oshaberi/pkg/provider/stt"
)

// Clock abstracts wall-clock access so endpointing is deterministic in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// systemClock is the production Clock.
type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the real wall-clock.
func SystemClock() Clock { return systemClock{} }

// OutcomeKind discriminates the result of one capture turn.
type OutcomeKind int

const (
	// OutcomeText means a usable utterance was finalized.
	OutcomeText OutcomeKind = iota

	// OutcomeTimeout means no speech was detected within the max wait.
	OutcomeTimeout

	// OutcomeEmpty means speech was detected but nothing usable was
	// finalized.
	OutcomeEmpty
)

// Outcome is the explicit result of a capture turn. Callers switch on Kind
// instead of relying on error control flow; none of these cases is an error.
type Outcome struct {
	Kind OutcomeKind
	Text string
}

// SegmenterConfig holds the endpointing parameters. The defaults come from
// living-room tuning with elderly speakers, where pauses run long and
// recognisers re-emit fragments.
type SegmenterConfig struct {
	// SilenceThreshold is the pause length after the last accepted fragment
	// that ends the turn.
	SilenceThreshold time.Duration

	// MinSpeechDuration rejects captures shorter than this; the capture
	// restarts instead of finalizing.
	MinSpeechDuration time.Duration

	// MaxWait is the hard cap on total capture time.
	MaxWait time.Duration

	// ConsecutiveSilenceLimit is the number of empty final fragments in a
	// row that forces endpointing before the silence timer elapses.
	ConsecutiveSilenceLimit int

	// PollInterval bounds how long the loop waits for an event before
	// re-checking the timers. Defaults to 500ms.
	PollInterval time.Duration
}

// Segmenter turns a stream of recognizer events into one finalized utterance
// per turn. A single Segmenter handles one capture at a time; the foreground
// loop calls [Segmenter.Capture] sequentially.
type Segmenter struct {
	cfg     SegmenterConfig
	clock   Clock
	history *History
	guard   func() bool
	metrics *observe.Metrics
	log     *slog.Logger
}

// SegmenterOption configures a Segmenter.
type SegmenterOption func(*Segmenter)

// WithClock substitutes the wall-clock. Tests inject a fake.
func WithClock(c Clock) SegmenterOption {
	return func(s *Segmenter) { s.clock = c }
}

// WithSegmenterMetrics installs metric instruments.
func WithSegmenterMetrics(m *observe.Metrics) SegmenterOption {
	return func(s *Segmenter) { s.metrics = m }
}

// WithSpeakingGuard installs a hook consulted before accepting a fragment.
// While the guard returns true (the system is speaking a full response),
// fragments are discarded so the assistant does not transcribe its own voice.
func WithSpeakingGuard(guard func() bool) SegmenterOption {
	return func(s *Segmenter) { s.guard = guard }
}

// NewSegmenter creates a Segmenter appending finalized user turns to history.
func NewSegmenter(cfg SegmenterConfig, history *History, opts ...SegmenterOption) *Segmenter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	s := &Segmenter{
		cfg:     cfg,
		clock:   systemClock{},
		history: history,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Capture runs one turn against the recognition session and returns its
// Outcome. On OutcomeText the utterance has been appended to the history.
//
// The algorithm accepts non-empty final fragments, skipping any fragment
// identical to the immediately preceding one (recognizers re-emit), and
// resets the silence tracking on every accepted fragment. When the silence
// threshold or the consecutive-silence limit is reached it flushes the
// recognizer, appends any non-duplicate final text, and finalizes if the
// capture lasted at least MinSpeechDuration; shorter captures are discarded
// and the capture restarts within the same call.
func (s *Segmenter) Capture(ctx context.Context, sess stt.SessionHandle) (Outcome, error) {
	began := s.clock.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.CaptureDuration.Record(ctx, s.clock.Now().Sub(began).Seconds())
		}
	}()

	start := began
	lastSpeech := start
	var fragments []string
	speechStarted := false
	consecSilence := 0
	lastText := ""

	for {
		ev, received, open := s.nextEvent(ctx, sess)
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		now := s.clock.Now()

		if received && ev.Final && !(s.guard != nil && s.guard()) {
			text := strings.TrimSpace(ev.Text)
			if text != "" {
				if !speechStarted {
					speechStarted = true
					consecSilence = 0
					s.log.Debug("speech detected")
				}
				if text != lastText {
					s.log.Debug("fragment accepted", "text", text)
					fragments = append(fragments, text)
					lastText = text
					lastSpeech = now
					consecSilence = 0
				}
			} else {
				consecSilence++
			}
		}

		endpoint := speechStarted &&
			(now.Sub(lastSpeech) > s.cfg.SilenceThreshold || consecSilence >= s.cfg.ConsecutiveSilenceLimit)

		if endpoint || !open {
			if speechStarted {
				if final, err := sess.Flush(ctx); err != nil {
					s.log.Warn("recognizer flush failed", "error", err)
				} else if final = strings.TrimSpace(final); final != "" && final != lastText {
					fragments = append(fragments, final)
					lastText = final
				}
			}
			if !open {
				break
			}
			if now.Sub(start) >= s.cfg.MinSpeechDuration {
				break
			}
			// Too short to be speech. Discard and listen again. lastText is
			// carried over: the recognizer re-emits the flushed text on the
			// event stream, and the restarted capture must not accept it.
			s.log.Debug("capture below minimum speech duration, restarting")
			start = s.clock.Now()
			lastSpeech = start
			fragments = nil
			speechStarted = false
			consecSilence = 0
			continue
		}

		if now.Sub(start) > s.cfg.MaxWait {
			break
		}
	}

	text := finalizeText(fragments)
	if text != "" {
		s.history.AppendUser(text)
		return Outcome{Kind: OutcomeText, Text: text}, nil
	}
	if speechStarted {
		return Outcome{Kind: OutcomeEmpty}, nil
	}
	return Outcome{Kind: OutcomeTimeout}, nil
}

// nextEvent waits for the next recognizer event, preferring already-buffered
// events over the poll tick so timing checks stay deterministic. The second
// return reports whether an event was received, the third whether the stream
// is still open.
func (s *Segmenter) nextEvent(ctx context.Context, sess stt.SessionHandle) (stt.Event, bool, bool) {
	select {
	case ev, ok := <-sess.Events():
		return ev, ok, ok
	default:
	}
	select {
	case ev, ok := <-sess.Events():
		return ev, ok, ok
	case <-s.clock.After(s.cfg.PollInterval):
		return stt.Event{}, false, true
	case <-ctx.Done():
		return stt.Event{}, false, true
	}
}

// finalizeText joins fragments with single spaces, collapses interior
// whitespace, and strips trailing punctuation.
func finalizeText(fragments []string) string {
	joined := strings.Join(fragments, " ")
	joined = strings.Join(strings.Fields(joined), " ")
	return strings.TrimRight(joined, "、。,.!?")
}
