// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns text into audible speech on the local audio device.
// Two calling styles are offered: [Provider.Speak] blocks until playback
// finishes, while [Provider.Start] returns a [Playback] handle so the caller
// can monitor completion or cancel early. The speech-output arbiter builds its
// speaking-state bookkeeping on top of Start.
package tts

import "context"

// VoiceProfile selects the synthesis voice and speaking rate.
type VoiceProfile struct {
	// Voice is the backend-specific voice name (e.g., "Kyoko").
	// Empty selects the backend default.
	Voice string

	// Rate is the speaking rate in words per minute. Zero selects the
	// backend default. Slower rates suit elderly listeners.
	Rate int
}

// Playback is a handle to an in-flight utterance started with
// [Provider.Start].
type Playback interface {
	// Done returns a channel that is closed when playback finishes. The
	// channel yields the playback error, or nil on clean completion, and is
	// then closed.
	Done() <-chan error

	// Stop interrupts playback. Done still completes afterwards. Calling
	// Stop on finished playback is a no-op.
	Stop() error
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use, though callers are
// expected to serialise actual playback themselves so that at most one
// utterance is audible at a time.
type Provider interface {
	// Speak synthesises text and blocks until playback completes or ctx is
	// cancelled.
	Speak(ctx context.Context, text string, profile VoiceProfile) error

	// Start synthesises text and begins playback without blocking. The
	// returned Playback reports completion via Done.
	Start(ctx context.Context, text string, profile VoiceProfile) (Playback, error)
}
