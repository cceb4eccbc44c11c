package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/akiyumeyou/oshaberi/pkg/provider/tts"
	ttsmock "github.com/akiyumeyou/oshaberi/pkg/provider/tts/mock"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// countingProvider asserts the single-active-playback invariant at the
// provider boundary. Playbacks auto-complete shortly after starting.
type countingProvider struct {
	mu        sync.Mutex
	active    int
	maxActive int
	started   int
}

func (p *countingProvider) Speak(ctx context.Context, text string, profile tts.VoiceProfile) error {
	pb, err := p.Start(ctx, text, profile)
	if err != nil {
		return err
	}
	return <-pb.Done()
}

func (p *countingProvider) Start(_ context.Context, _ string, _ tts.VoiceProfile) (tts.Playback, error) {
	p.mu.Lock()
	p.active++
	p.started++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		time.Sleep(time.Millisecond)
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		done <- nil
		close(done)
	}()
	return countingPlayback{done: done}, nil
}

type countingPlayback struct{ done chan error }

func (pb countingPlayback) Done() <-chan error { return pb.done }
func (pb countingPlayback) Stop() error        { return nil }

// recorder collects spoken utterances.
type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *recorder) AppendSystem(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.texts))
	copy(out, r.texts)
	return out
}

func TestArbiterMutualExclusion(t *testing.T) {
	t.Parallel()

	provider := &countingProvider{}
	a := NewArbiter(provider, tts.VoiceProfile{Voice: "Kyoko", Rate: 140})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Speak(context.Background(), "長めの返事をしています", true)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.SayBackchannel(context.Background(), "うんうん", true)
		}()
	}
	wg.Wait()
	waitFor(t, func() bool { return !a.Speaking() })

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.maxActive != 1 {
		t.Errorf("max concurrent playbacks = %d, want 1", provider.maxActive)
	}
	if provider.started == 0 {
		t.Error("nothing was played")
	}
}

func TestArbiterBackchannelQueue(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{}
	rec := &recorder{}
	a := NewArbiter(provider, tts.VoiceProfile{}, WithRecorder(rec))

	// Occupy the speaking state with a non-blocking full response.
	if err := a.Speak(context.Background(), "今日も一日お疲れ様でした", false); err != nil {
		t.Fatalf("speak: %v", err)
	}
	waitFor(t, func() bool { return len(provider.Playbacks()) == 1 })
	if !a.Speaking() {
		t.Fatal("speaking state not held")
	}

	// Short backchannel queues; the same text queues only once; a long one
	// is dropped.
	if err := a.SayBackchannel(context.Background(), "うんうん", true); err != nil {
		t.Fatalf("backchannel: %v", err)
	}
	if err := a.SayBackchannel(context.Background(), "うんうん", true); err != nil {
		t.Fatalf("backchannel: %v", err)
	}
	if err := a.SayBackchannel(context.Background(), "これはとても長い相槌なので入りません", true); err != nil {
		t.Fatalf("backchannel: %v", err)
	}

	// Finish the full response; the queued backchannel must play next.
	provider.Playbacks()[0].Finish(nil)
	waitFor(t, func() bool { return len(provider.Playbacks()) == 2 })
	if got := provider.Playbacks()[1].Text; got != "うんうん" {
		t.Errorf("queued playback text = %q", got)
	}

	provider.Playbacks()[1].Finish(nil)
	waitFor(t, func() bool { return !a.Speaking() })

	if got := len(provider.Playbacks()); got != 2 {
		t.Errorf("playbacks = %d, want 2 (duplicate and long ones never played)", got)
	}
	spoken := rec.all()
	if len(spoken) != 2 || spoken[0] != "今日も一日お疲れ様でした" || spoken[1] != "うんうん" {
		t.Errorf("history = %v", spoken)
	}
}

func TestArbiterImmediateBackchannel(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{AutoComplete: true}
	a := NewArbiter(provider, tts.VoiceProfile{})

	if err := a.SayBackchannel(context.Background(), "なるほど", true); err != nil {
		t.Fatalf("backchannel: %v", err)
	}
	if a.Speaking() {
		t.Error("speaking state not released after blocking playback")
	}
	if got := provider.Spoken(); len(got) != 1 {
		t.Errorf("spoken = %v", got)
	}
}

func TestArbiterStateReleasedOnFailure(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{StartErr: errors.New("synth down")}
	a := NewArbiter(provider, tts.VoiceProfile{})

	if err := a.Speak(context.Background(), "こんにちは", true); err == nil {
		t.Fatal("expected error")
	}
	if a.Speaking() {
		t.Error("speaking state stuck after synthesis failure")
	}
}

func TestArbiterResetPurgesQueue(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{}
	a := NewArbiter(provider, tts.VoiceProfile{})

	if err := a.Speak(context.Background(), "お話の途中です", false); err != nil {
		t.Fatalf("speak: %v", err)
	}
	waitFor(t, func() bool { return len(provider.Playbacks()) == 1 })

	if err := a.SayBackchannel(context.Background(), "はいはい", true); err != nil {
		t.Fatalf("backchannel: %v", err)
	}
	a.Reset()

	provider.Playbacks()[0].Finish(nil)
	waitFor(t, func() bool { return !a.Speaking() })

	if got := len(provider.Playbacks()); got != 1 {
		t.Errorf("purged backchannel still played: %d playbacks", got)
	}
}

func TestArbiterNormalizesBeforeSynthesis(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{AutoComplete: true}
	rec := &recorder{}
	a := NewArbiter(provider, tts.VoiceProfile{}, WithRecorder(rec))

	if err := a.Speak(context.Background(), "こんにちは。元気です", true); err != nil {
		t.Fatalf("speak: %v", err)
	}

	if got := provider.Spoken()[0]; got != "こんにちわ。 元気です" {
		t.Errorf("synthesised text = %q, want normalized form", got)
	}
	// History keeps the logical, un-normalized text.
	if got := rec.all()[0]; got != "こんにちは。元気です" {
		t.Errorf("history text = %q", got)
	}
}
