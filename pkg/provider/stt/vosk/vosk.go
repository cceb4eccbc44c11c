// Package vosk provides an STT provider backed by a vosk-server instance
// speaking the Kaldi WebSocket protocol. It implements the stt.Provider
// interface.
//
// The protocol is simple: the client opens a WebSocket, optionally sends a
// JSON configuration message, then streams binary PCM chunks. The server
// answers each chunk with a JSON message carrying either a "partial" field
// (interim hypothesis) or a "text" field (committed segment). Sending
// {"eof" : 1} forces the server to commit and return its final result.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/akiyumeyou/oshaberi/pkg/provider/stt"
)

const (
	defaultSampleRate = 16000
	flushTimeout      = 5 * time.Second
)

// Option is a functional option for configuring the vosk Provider.
type Option func(*Provider)

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements stt.Provider backed by a vosk-server WebSocket endpoint.
type Provider struct {
	serverURL  string
	sampleRate int
}

// New creates a vosk Provider for the server at serverURL
// (e.g., "ws://localhost:2700"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("vosk: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a recognition session against the vosk server.
// The language is determined by the model loaded into the server, so
// cfg.Language is ignored here.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	conn, _, err := websocket.Dial(ctx, p.serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("vosk: dial %s: %w", p.serverURL, err)
	}

	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	// The config message must precede any audio.
	confMsg, _ := json.Marshal(map[string]any{
		"config": map[string]any{"sample_rate": sr},
	})
	if err := conn.Write(ctx, websocket.MessageText, confMsg); err != nil {
		conn.Close(websocket.StatusInternalError, "config write failed")
		return nil, fmt.Errorf("vosk: send config: %w", err)
	}

	// The loops run on a session-scoped context so the session outlives the
	// dial context and Close can unblock a pending read.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		conn:   conn,
		cancel: cancel,
		events: make(chan stt.Event, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(sctx)
	go sess.writeLoop(sctx)

	return sess, nil
}

// ---- session ----

// serverResult is the JSON structure returned by vosk-server. Exactly one of
// Partial or Text is meaningful per message.
type serverResult struct {
	Partial *string `json:"partial"`
	Text    *string `json:"text"`
}

// session is a live vosk streaming session. It implements stt.SessionHandle.
type session struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	events chan stt.Event
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// flushMu serialises Flush calls; flushCh receives the final text
	// committed in response to an eof message while a flush is pending.
	flushMu      sync.Mutex
	flushPending chan string
	flushState   sync.Mutex
}

// SendAudio queues a PCM audio chunk for delivery to the server.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("vosk: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("vosk: session is closed")
	}
}

// Events returns the channel of recognition events.
func (s *session) Events() <-chan stt.Event { return s.events }

// Flush sends {"eof":1} and waits for the server to commit its pending
// partial. The committed text is returned and also emitted on Events as a
// final event, so callers that consume both must de-duplicate.
func (s *session) Flush(ctx context.Context) (string, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	select {
	case <-s.done:
		return "", errors.New("vosk: session is closed")
	default:
	}

	ch := make(chan string, 1)
	s.flushState.Lock()
	s.flushPending = ch
	s.flushState.Unlock()
	defer func() {
		s.flushState.Lock()
		s.flushPending = nil
		s.flushState.Unlock()
	}()

	if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"eof" : 1}`)); err != nil {
		return "", fmt.Errorf("vosk: send eof: %w", err)
	}

	timer := time.NewTimer(flushTimeout)
	defer timer.Stop()
	select {
	case text := <-ch:
		return text, nil
	case <-timer.C:
		return "", errors.New("vosk: flush timed out")
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
		return "", errors.New("vosk: session is closed")
	}
}

// Close terminates the session. The connection is closed and the loop
// context cancelled before waiting on the loops: readLoop sits in a blocking
// read between server messages, and a silent server would otherwise never
// unblock it.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to the server.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages from the server and dispatches them to the
// events channel. A pending Flush additionally receives the next committed
// text directly.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			return
		}

		ev, ok := parseResult(msg)
		if !ok {
			continue
		}

		if ev.Final {
			s.flushState.Lock()
			pending := s.flushPending
			s.flushState.Unlock()
			if pending != nil {
				select {
				case pending <- ev.Text:
				default:
				}
			}
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// parseResult parses a raw vosk-server message into an Event.
// Returns (Event, true) on success, or (zero, false) for messages to ignore.
func parseResult(data []byte) (stt.Event, bool) {
	var res serverResult
	if err := json.Unmarshal(data, &res); err != nil {
		return stt.Event{}, false
	}
	switch {
	case res.Text != nil:
		return stt.Event{Final: true, Text: *res.Text}, true
	case res.Partial != nil:
		return stt.Event{Final: false, Text: *res.Partial}, true
	default:
		return stt.Event{}, false
	}
}
