// Package say provides a TTS provider backed by the macOS `say` command.
//
// It shells out to /usr/bin/say per utterance, which keeps the dependency
// surface at zero and matches how the assistant is usually run on a Mac with
// the Kyoko Japanese voice.
package say

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/akiyumeyou/oshaberi/pkg/provider/tts"
)

// Provider implements tts.Provider using the `say` command line tool.
type Provider struct {
	// binary is the say executable path, "say" by default.
	binary string
}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the say Provider.
type Option func(*Provider)

// WithBinary overrides the say executable path. Useful in tests.
func WithBinary(path string) Option {
	return func(p *Provider) {
		p.binary = path
	}
}

// New creates a say-backed Provider.
func New(opts ...Option) *Provider {
	p := &Provider{binary: "say"}
	for _, o := range opts {
		o(p)
	}
	return p
}

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
		_ = pb.Stop()
		<-pb.Done()
		return ctx.Err()
	}
}

// Start implements tts.Provider.
func (p *Provider) Start(ctx context.Context, text string, profile tts.VoiceProfile) (tts.Playback, error) {
	if text == "" {
		return nil, errors.New("say: text must not be empty")
	}

	args := make([]string, 0, 5)
	if profile.Voice != "" {
		args = append(args, "-v", profile.Voice)
	}
	if profile.Rate > 0 {
		args = append(args, "-r", strconv.Itoa(profile.Rate))
	}
	args = append(args, text)

	cmd := exec.CommandContext(ctx, p.binary, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("say: start %s: %w", p.binary, err)
	}

	pb := &playback{cmd: cmd, done: make(chan error, 1)}
	go func() {
		err := cmd.Wait()
		pb.done <- err
		close(pb.done)
	}()
	return pb, nil
}

// playback wraps a running say process.
type playback struct {
	cmd  *exec.Cmd
	done chan error

	stopOnce sync.Once
}

func (pb *playback) Done() <-chan error { return pb.done }

func (pb *playback) Stop() error {
	var err error
	pb.stopOnce.Do(func() {
		if pb.cmd.Process != nil {
			err = pb.cmd.Process.Kill()
		}
	})
	return err
}
