// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time recognizer (e.g., a local vosk-server) and
// exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and emits
// a single ordered stream of Event values — interim partials for
// responsiveness and committed finals that the segmentation engine consumes.
// A session also supports a turn-end Flush that forces the recognizer to
// commit whatever partial result it is still holding.
//
// Implementations must be safe for concurrent use. Audio input and event
// output channels are goroutine-safe by construction.
package stt

import "context"

// Event is a single recognition result emitted by an STT session.
type Event struct {
	// Final reports whether the recognizer has committed to this text.
	// Non-final events are low-latency guesses and may be revised; only
	// final events are suitable for the session log. A final event with
	// empty Text means the recognizer processed audio containing no speech.
	Final bool

	// Text is the recognised text, possibly empty.
	Text string
}

// StreamConfig describes the audio format for a new STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the usual value
	// for recognition-optimised mono input.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// recognizers). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "ja-JP").
	// An empty string lets the provider use its model default.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide scripted implementations without a live
// recognizer connection.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the recognizer.
	// The chunk must match the SampleRate, Channels, and bit-depth agreed in
	// StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Events returns a read-only channel that emits recognition Events in
	// arrival order. The channel is closed when the session ends.
	Events() <-chan Event

	// Flush asks the recognizer to commit its current partial result and
	// returns the committed text (possibly empty). Used at turn end so that
	// trailing speech that never crossed a natural segment boundary is not
	// lost. Flush does not close the session.
	Flush(ctx context.Context) (string, error)

	// Close terminates the session and releases all associated resources.
	// After Close returns, the Events channel will be closed. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// StartStream opens a new streaming recognition session with the given
	// audio format. The returned SessionHandle is ready to accept audio
	// immediately. The caller owns the handle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
