// Package mock provides a controllable tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/akiyumeyou/oshaberi/pkg/provider/tts"
)

// Playback is a manually completed tts.Playback. Tests call Finish to signal
// completion, which lets arbiter tests hold the speaking state open for as
// long as the scenario needs.
type Playback struct {
	// Text is the utterance this playback was started with.
	Text string

	done    chan error
	once    sync.Once
	stopped bool
	stopMu  sync.Mutex
}

var _ tts.Playback = (*Playback)(nil)

// Finish completes the playback with the given error (nil for success).
func (pb *Playback) Finish(err error) {
	pb.once.Do(func() {
		pb.done <- err
		close(pb.done)
	})
}

// Done implements tts.Playback.
func (pb *Playback) Done() <-chan error { return pb.done }

// Stop implements tts.Playback. It records the call and completes playback.
func (pb *Playback) Stop() error {
	pb.stopMu.Lock()
	pb.stopped = true
	pb.stopMu.Unlock()
	pb.Finish(nil)
	return nil
}

// Stopped reports whether Stop was called.
func (pb *Playback) Stopped() bool {
	pb.stopMu.Lock()
	defer pb.stopMu.Unlock()
	return pb.stopped
}

// Provider is a scripted tts.Provider. By default playbacks complete only
// when the test calls Finish; set AutoComplete for fire-and-forget behaviour.
type Provider struct {
	mu        sync.Mutex
	playbacks []*Playback

	// AutoComplete makes every playback finish immediately.
	AutoComplete bool

	// StartErr, when set, is returned by Start and Speak.
	StartErr error
}

var _ tts.Provider = (*Provider)(nil)

// Speak implements tts.Provider.
func (p *Provider) Speak(ctx context.Context, text string, profile tts.VoiceProfile) error {
	pb, err := p.Start(ctx, text, profile)
	if err != nil {
		return err
	}
	select {
	case err := <-pb.Done():
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start implements tts.Provider.
func (p *Provider) Start(_ context.Context, text string, _ tts.VoiceProfile) (tts.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	pb := &Playback{Text: text, done: make(chan error, 1)}
	p.playbacks = append(p.playbacks, pb)
	if p.AutoComplete {
		pb.Finish(nil)
	}
	return pb, nil
}

// Playbacks returns all playbacks started so far, in order.
func (p *Provider) Playbacks() []*Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Playback, len(p.playbacks))
	copy(out, p.playbacks)
	return out
}

// Spoken returns the texts of all started playbacks, in order.
func (p *Provider) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.playbacks))
	for i, pb := range p.playbacks {
		out[i] = pb.Text
	}
	return out
}
