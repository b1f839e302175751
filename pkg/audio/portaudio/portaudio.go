//go:build portaudio

// Package portaudio implements [audio.Microphone] on top of the PortAudio C
// library. The PortAudio shared library and headers must be available at
// build time; build with -tags portaudio.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/voxquill/pkg/audio"
	pa "github.com/gordonklaus/portaudio"
)

// Available reports whether the binary was built with PortAudio support.
const Available = true

const (
	defaultSampleRate      = 48000
	defaultFramesPerBuffer = 1024
)

// Microphone opens the host's default input device.
type Microphone struct {
	// FramesPerBuffer is the PortAudio buffer size in frames. Default: 1024.
	FramesPerBuffer int
}

// New returns a Microphone for the default input device.
func New() *Microphone {
	return &Microphone{FramesPerBuffer: defaultFramesPerBuffer}
}

// Acquire initialises PortAudio and starts a capture stream on the default
// input device.
func (m *Microphone) Acquire(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	rate := c.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	frames := m.FramesPerBuffer
	if frames <= 0 {
		frames = defaultFramesPerBuffer
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	buf := make([]float32, frames*channels)
	st, err := pa.OpenDefaultStream(channels, 0, float64(rate), frames, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open default stream: %w", err)
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	return &stream{
		st:     st,
		buf:    buf,
		format: audio.Format{SampleRate: rate, Channels: channels},
	}, nil
}

// stream adapts a blocking PortAudio input stream to [audio.Stream]. Reads
// and Close are serialised so the device is never closed mid-read.
type stream struct {
	mu      sync.Mutex
	st      *pa.Stream
	buf     []float32
	pending []float32
	format  audio.Format
	closed  bool
}

func (s *stream) Format() audio.Format { return s.format }

func (s *stream) Read(p []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, audio.ErrStreamClosed
	}
	if len(s.pending) == 0 {
		if err := s.st.Read(); err != nil {
			return 0, fmt.Errorf("portaudio: read: %w", err)
		}
		s.pending = s.buf
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	var firstErr error
	if err := s.st.Stop(); err != nil {
		firstErr = fmt.Errorf("portaudio: stop: %w", err)
	}
	if err := s.st.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("portaudio: close: %w", err)
	}
	if err := pa.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("portaudio: terminate: %w", err)
	}
	return firstErr
}

var _ audio.Microphone = (*Microphone)(nil)
