package dialogue

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/akiyumeyou/oshaberi/internal/observe"
	"github.com/akiyumeyou/oshaberi/pkg/provider/stt"
)

// endCommand ends the conversation when it appears in an utterance.
const endCommand = "終了"

// farewellPhrase is spoken before the session is wrapped up.
const farewellPhrase = "会話を終了します。"

// initialTopics open the conversation; one is picked at random.
var initialTopics = []string{
	"今日はどのようにお過ごしですか？",
	"楽しかったことはありました？",
	"何のお話が良いですか？",
}

// SpeechOutput is the speech-output capability injected into the loop.
// Implemented by speech.Arbiter.
type SpeechOutput interface {
	// Speak plays a full response.
	Speak(ctx context.Context, text string, blocking bool) error

	// SayBackchannel plays a short acknowledgement, which may be queued or
	// dropped while other speech is active.
	SayBackchannel(ctx context.Context, text string, blocking bool) error

	// Speaking reports whether playback is currently active.
	Speaking() bool
}

// TopicStock is the topic capability injected into the loop.
// Implemented by topics.Stock.
type TopicStock interface {
	TopicPicker

	// Record offers a finalized user utterance as a topic candidate.
	Record(text string)
}

// SessionEnder finalises a session: summarisation and persistence.
// Implemented by session.Closer.
type SessionEnder interface {
	EndSession(ctx context.Context, entries []Utterance) error
}

// Loop is the foreground turn loop: listen, classify, respond, repeat until
// the user says the end command. Strictly sequential within a turn; the only
// concurrency lives inside the speech-output arbiter.
type Loop struct {
	segmenter *Segmenter
	router    *Router
	speaker   SpeechOutput
	topics    TopicStock
	history   *History
	ender     SessionEnder

	// idlePrompt is how long the loop tolerates unusable captures before
	// proactively offering a topic. Zero disables the re-prompt.
	idlePrompt time.Duration

	metrics *observe.Metrics
	clock   Clock
	log     *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithIdlePrompt sets the idle re-prompt threshold.
func WithIdlePrompt(d time.Duration) LoopOption {
	return func(l *Loop) { l.idlePrompt = d }
}

// WithLoopClock substitutes the wall-clock. Tests inject a fake.
func WithLoopClock(c Clock) LoopOption {
	return func(l *Loop) { l.clock = c }
}

// WithLoopMetrics installs metric instruments.
func WithLoopMetrics(m *observe.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// NewLoop wires a turn loop over its collaborators.
func NewLoop(seg *Segmenter, router *Router, speaker SpeechOutput, topics TopicStock, history *History, ender SessionEnder, opts ...LoopOption) *Loop {
	l := &Loop{
		segmenter: seg,
		router:    router,
		speaker:   speaker,
		topics:    topics,
		history:   history,
		ender:     ender,
		clock:     systemClock{},
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run drives the conversation over the given recognition session until the
// user ends it or ctx is cancelled. The session is ended (summarised and
// persisted) on every return path that saw at least one turn.
func (l *Loop) Run(ctx context.Context, sess stt.SessionHandle) error {
	greeting := initialTopics[rand.IntN(len(initialTopics))]
	if err := l.speaker.Speak(ctx, greeting, true); err != nil {
		l.log.Warn("greeting playback failed", "error", err)
	}

	lastActivity := l.clock.Now()
	for {
		outcome, err := l.segmenter.Capture(ctx, sess)
		if err != nil {
			// Context cancelled; still try to preserve the session.
			l.endSession(context.WithoutCancel(ctx))
			return err
		}

		switch outcome.Kind {
		case OutcomeTimeout, OutcomeEmpty:
			if l.idlePrompt > 0 && l.clock.Now().Sub(lastActivity) >= l.idlePrompt {
				l.log.Info("idle threshold reached, suggesting a topic")
				suggestion := l.topics.Pick()
				if err := l.speaker.Speak(ctx, suggestion, true); err != nil {
					l.log.Warn("topic suggestion playback failed", "error", err)
				}
				lastActivity = l.clock.Now()
			}
			continue

		case OutcomeText:
			lastActivity = l.clock.Now()
		}

		text := outcome.Text
		l.log.Info("user turn", "text", text)

		if strings.Contains(text, endCommand) {
			if err := l.speaker.Speak(ctx, farewellPhrase, true); err != nil {
				l.log.Warn("farewell playback failed", "error", err)
			}
			l.endSession(ctx)
			return nil
		}

		l.topics.Record(text)

		reply, intent := l.router.Respond(ctx, text)
		if l.metrics != nil {
			l.metrics.RecordTurn(ctx, string(intent))
		}
		if reply == "" {
			continue
		}

		switch intent {
		case IntentEmotion, IntentShort:
			if err := l.speaker.SayBackchannel(ctx, reply, true); err != nil {
				l.log.Warn("backchannel playback failed", "error", err)
			}
		default:
			if err := l.speaker.Speak(ctx, reply, true); err != nil {
				l.log.Warn("response playback failed", "error", err)
			}
		}
	}
}

// endSession hands the turn history to the session ender. Failures are
// logged, never fatal.
func (l *Loop) endSession(ctx context.Context) {
	if l.ender == nil || l.history.Len() == 0 {
		return
	}
	if err := l.ender.EndSession(ctx, l.history.Entries()); err != nil {
		l.log.Error("session wrap-up failed", "error", err)
	}
}
