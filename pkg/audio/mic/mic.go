// Package mic captures microphone audio through PortAudio and pumps raw
// 16-bit little-endian PCM frames into a recognition session.
//
// One Capture owns the default input device for its lifetime. Open it once at
// startup and run [Capture.Pump] per recognition session; captures are
// sequential in this application, so the device is never contended.
package mic

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

const defaultFramesPerBuffer = 1024

// Sink receives PCM chunks. Implemented by stt.SessionHandle.
type Sink interface {
	SendAudio(chunk []byte) error
}

// Option is a functional option for configuring a Capture.
type Option func(*Capture)

// WithFramesPerBuffer sets the number of frames read per device callback.
func WithFramesPerBuffer(n int) Option {
	return func(c *Capture) {
		if n > 0 {
			c.frames = n
		}
	}
}

// Capture is an open microphone input stream.
type Capture struct {
	stream *portaudio.Stream
	in     []int16
	frames int
}

// Open initialises PortAudio and starts the default input device at the given
// sample rate and channel count. The caller must Close the Capture to release
// the device.
func Open(sampleRate, channels int, opts ...Option) (*Capture, error) {
	c := &Capture{frames: defaultFramesPerBuffer}
	for _, o := range opts {
		o(c)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("mic: initialise portaudio: %w", err)
	}
	c.in = make([]int16, c.frames*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), c.frames, c.in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("mic: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("mic: start input stream: %w", err)
	}
	c.stream = stream
	return c, nil
}

// Pump reads frames from the device and forwards them to sink until ctx is
// cancelled, the device read fails, or the sink refuses a chunk. A sink
// refusal is the normal way a pump ends: the recognition session it feeds has
// been closed.
func (c *Capture) Pump(ctx context.Context, sink Sink) error {
	return pump(ctx, c.stream.Read, c.in, sink)
}

// pump is the device-independent pump loop. read fills in with the next
// frame buffer.
func pump(ctx context.Context, read func() error, in []int16, sink Sink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := read(); err != nil {
			return fmt.Errorf("mic: read frame: %w", err)
		}
		if err := sink.SendAudio(frameBytes(in)); err != nil {
			return fmt.Errorf("mic: forward frame: %w", err)
		}
	}
}

// Close stops the stream and releases PortAudio.
func (c *Capture) Close() error {
	err := c.stream.Stop()
	if cerr := c.stream.Close(); err == nil {
		err = cerr
	}
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	if err != nil {
		return fmt.Errorf("mic: close: %w", err)
	}
	return nil
}

// frameBytes converts int16 samples to the little-endian byte layout the
// recognizer expects. A fresh slice is returned because the sink may retain
// the chunk past the next device read.
func frameBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
