package dialogue

import (
	"context"
	"testing"
	"time"

	"github.com/akiyumeyou/oshaberi/pkg/provider/stt"
	sttmock "github.com/akiyumeyou/oshaberi/pkg/provider/stt/mock"
)

// fakeClock advances by a scripted step on every Now call. After exhausting
// the script the last step repeats. After never blocks, so the capture loop
// spins deterministically.
type fakeClock struct {
	t     time.Time
	steps []time.Duration
	i     int
}

func newFakeClock(steps ...time.Duration) *fakeClock {
	return &fakeClock{t: time.Unix(0, 0), steps: steps}
}

func (c *fakeClock) Now() time.Time {
	step := c.steps[len(c.steps)-1]
	if c.i < len(c.steps) {
		step = c.steps[c.i]
	}
	c.i++
	c.t = c.t.Add(step)
	return c.t
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.t
	return ch
}

func testSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SilenceThreshold:        1500 * time.Millisecond,
		MinSpeechDuration:       300 * time.Millisecond,
		MaxWait:                 10 * time.Second,
		ConsecutiveSilenceLimit: 3,
		PollInterval:            500 * time.Millisecond,
	}
}

func finalEvents(texts ...string) *sttmock.Session {
	sess := sttmock.NewSession(len(texts) + 8)
	for _, txt := range texts {
		sess.Emit(stt.Event{Final: true, Text: txt})
	}
	return sess
}

func TestCaptureDuplicateSuppression(t *testing.T) {
	t.Parallel()

	history := NewHistory()
	seg := NewSegmenter(testSegmenterConfig(), history,
		WithClock(newFakeClock(100*time.Millisecond)))
	sess := finalEvents("こんにちは", "こんにちは", "元気です", "", "", "")

	outcome, err := seg.Capture(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeText {
		t.Fatalf("kind = %v, want text", outcome.Kind)
	}
	if outcome.Text != "こんにちは 元気です" {
		t.Errorf("text = %q, want こんにちは 元気です", outcome.Text)
	}
	if sess.FlushCalls != 1 {
		t.Errorf("flush calls = %d, want 1", sess.FlushCalls)
	}
	last, ok := history.Last()
	if !ok || last.Speaker != SpeakerUser || last.Text != outcome.Text {
		t.Errorf("history entry = %+v", last)
	}
}

func TestCaptureDeterminism(t *testing.T) {
	t.Parallel()

	run := func() Outcome {
		seg := NewSegmenter(testSegmenterConfig(), NewHistory(),
			WithClock(newFakeClock(100*time.Millisecond)))
		sess := finalEvents("天気が", "いいですね", "", "", "")
		out, err := seg.Capture(context.Background(), sess)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return out
	}

	first, second := run(), run()
	if first != second {
		t.Errorf("outcomes differ: %+v vs %+v", first, second)
	}
}

func TestCaptureTrailingPunctuationStripped(t *testing.T) {
	t.Parallel()

	seg := NewSegmenter(testSegmenterConfig(), NewHistory(),
		WithClock(newFakeClock(100*time.Millisecond)))
	sess := finalEvents("今日は暑いですね。", "", "", "")

	outcome, err := seg.Capture(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Text != "今日は暑いですね" {
		t.Errorf("text = %q, want trailing punctuation stripped", outcome.Text)
	}
}

func TestCaptureMinimumDurationRestarts(t *testing.T) {
	t.Parallel()

	// First burst endpoints after 200ms of simulated time, below the 300ms
	// minimum, so it must be discarded and capture restarted. The second
	// burst runs at 100ms per tick and finalizes.
	clock := newFakeClock(
		50*time.Millisecond, 50*time.Millisecond, 50*time.Millisecond,
		50*time.Millisecond, 50*time.Millisecond, 50*time.Millisecond,
		100*time.Millisecond,
	)
	history := NewHistory()
	seg := NewSegmenter(testSegmenterConfig(), history, WithClock(clock))
	sess := finalEvents("はい", "", "", "", "散歩に行きました", "", "", "")

	outcome, err := seg.Capture(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeText {
		t.Fatalf("kind = %v, want text", outcome.Kind)
	}
	if outcome.Text != "散歩に行きました" {
		t.Errorf("text = %q, want second burst only", outcome.Text)
	}
	if sess.FlushCalls != 2 {
		t.Errorf("flush calls = %d, want 2 (one per endpoint)", sess.FlushCalls)
	}
}

func TestCaptureRestartSkipsReemittedFlushText(t *testing.T) {
	t.Parallel()

	// The recognizer commits flushed text on the event stream as well, so a
	// burst discarded for being too short comes back as a stale final event
	// after the restart. It must not leak into the next capture.
	clock := newFakeClock(
		50*time.Millisecond, 50*time.Millisecond, 50*time.Millisecond,
		50*time.Millisecond, 50*time.Millisecond, 50*time.Millisecond,
		100*time.Millisecond,
	)
	seg := NewSegmenter(testSegmenterConfig(), NewHistory(), WithClock(clock))
	sess := finalEvents("はい", "", "", "", "はい", "散歩に行きました", "", "", "")

	outcome, err := seg.Capture(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeText {
		t.Fatalf("kind = %v, want text", outcome.Kind)
	}
	if outcome.Text != "散歩に行きました" {
		t.Errorf("text = %q, want stale echo dropped", outcome.Text)
	}
}

func TestCaptureTimeout(t *testing.T) {
	t.Parallel()

	cfg := testSegmenterConfig()
	cfg.MaxWait = 450 * time.Millisecond
	seg := NewSegmenter(cfg, NewHistory(),
		WithClock(newFakeClock(100*time.Millisecond)))
	sess := sttmock.NewSession(1)

	outcome, err := seg.Capture(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeTimeout {
		t.Errorf("kind = %v, want timeout", outcome.Kind)
	}
	if sess.FlushCalls != 0 {
		t.Errorf("flush called on a turn with no speech")
	}
}

func TestCaptureFlushRecoversTrailingSpeech(t *testing.T) {
	t.Parallel()

	seg := NewSegmenter(testSegmenterConfig(), NewHistory(),
		WithClock(newFakeClock(100*time.Millisecond)))
	sess := finalEvents("今日は", "", "", "")
	sess.FlushText = "買い物に行きました"

	outcome, err := seg.Capture(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Text != "今日は 買い物に行きました" {
		t.Errorf("text = %q, want flush result appended", outcome.Text)
	}
}

func TestCaptureSpeakingGuard(t *testing.T) {
	t.Parallel()

	cfg := testSegmenterConfig()
	cfg.MaxWait = 450 * time.Millisecond
	seg := NewSegmenter(cfg, NewHistory(),
		WithClock(newFakeClock(100*time.Millisecond)),
		WithSpeakingGuard(func() bool { return true }))
	sess := finalEvents("こんにちは", "こんにちは")

	outcome, err := seg.Capture(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeTimeout {
		t.Errorf("kind = %v, want timeout while guard active", outcome.Kind)
	}
}
