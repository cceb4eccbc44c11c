// Package openjtalk provides a TTS provider backed by Open JTalk, the usual
// Japanese synthesis choice on Linux (e.g., a Raspberry Pi by the TV).
//
// Each utterance is synthesised to a temporary WAV with the open_jtalk binary
// and then played through aplay. The voice dictionary and htsvoice paths are
// required because Open JTalk has no usable defaults.
package openjtalk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/akiyumeyou/oshaberi/pkg/provider/tts"
)

// Provider implements tts.Provider using open_jtalk and aplay.
type Provider struct {
	dictDir   string
	voicePath string
	binary    string
	player    string
}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the openjtalk Provider.
type Option func(*Provider)

// WithBinary overrides the open_jtalk executable path.
func WithBinary(path string) Option {
	return func(p *Provider) { p.binary = path }
}

// WithPlayer overrides the audio player executable, "aplay" by default.
func WithPlayer(path string) Option {
	return func(p *Provider) { p.player = path }
}

// New creates an Open JTalk backed Provider. dictDir is the mecab dictionary
// directory and voicePath the .htsvoice model file; both are required.
func New(dictDir, voicePath string, opts ...Option) (*Provider, error) {
	if dictDir == "" {
		return nil, errors.New("openjtalk: dictDir must not be empty")
	}
	if voicePath == "" {
		return nil, errors.New("openjtalk: voicePath must not be empty")
	}
	p := &Provider{
		dictDir:   dictDir,
		voicePath: voicePath,
		binary:    "open_jtalk",
		player:    "aplay",
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
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

// Start implements tts.Provider. Synthesis runs synchronously (it is fast),
// playback runs in the background.
func (p *Provider) Start(ctx context.Context, text string, profile tts.VoiceProfile) (tts.Playback, error) {
	if text == "" {
		return nil, errors.New("openjtalk: text must not be empty")
	}

	dir, err := os.MkdirTemp("", "openjtalk-")
	if err != nil {
		return nil, fmt.Errorf("openjtalk: temp dir: %w", err)
	}
	txtPath := filepath.Join(dir, "utterance.txt")
	wavPath := filepath.Join(dir, "utterance.wav")
	if err := os.WriteFile(txtPath, []byte(text), 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("openjtalk: write text: %w", err)
	}

	args := []string{
		"-x", p.dictDir,
		"-m", p.voicePath,
		"-ow", wavPath,
	}
	if profile.Rate > 0 {
		// Open JTalk takes a speed ratio, not wpm. 140 wpm maps to 1.0.
		args = append(args, "-r", strconv.FormatFloat(float64(profile.Rate)/140.0, 'f', 2, 64))
	}
	args = append(args, txtPath)

	synth := exec.CommandContext(ctx, p.binary, args...)
	if out, err := synth.CombinedOutput(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("openjtalk: synthesise: %w (%s)", err, out)
	}

	play := exec.CommandContext(ctx, p.player, "-q", wavPath)
	if err := play.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("openjtalk: start %s: %w", p.player, err)
	}

	pb := &playback{cmd: play, done: make(chan error, 1)}
	go func() {
		err := play.Wait()
		os.RemoveAll(dir)
		pb.done <- err
		close(pb.done)
	}()
	return pb, nil
}

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
