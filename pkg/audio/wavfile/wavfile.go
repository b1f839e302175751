// Package wavfile implements [audio.Microphone] over a WAV file, for
// dictating prerecorded audio and for running the pipeline without a
// capture device.
package wavfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voxquill/pkg/audio"
)

// Microphone replays a WAV file as a capture stream. Every Acquire reopens
// the file from the start.
type Microphone struct {
	// Path is the WAV file to replay.
	Path string

	// Realtime paces reads at the file's sample rate instead of returning
	// samples as fast as they are consumed.
	Realtime bool
}

// New returns a Microphone for path.
func New(path string, realtime bool) *Microphone {
	return &Microphone{Path: path, Realtime: realtime}
}

// Acquire decodes the file and returns a stream in its stored format.
// Constraints are ignored; callers must honour [audio.Stream.Format].
func (m *Microphone) Acquire(ctx context.Context, _ audio.Constraints) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("wavfile: %w", err)
	}
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: read %q: %w", m.Path, err)
	}
	samples, format, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("wavfile: %q: %w", m.Path, err)
	}
	return NewStream(samples, format, m.Realtime), nil
}

// Stream serves decoded samples through [audio.Stream].
type Stream struct {
	format   audio.Format
	realtime bool

	mu      sync.Mutex
	samples []float32
	pos     int
	closed  bool
	done    chan struct{}
}

// NewStream returns a stream over interleaved samples in format f.
func NewStream(samples []float32, f audio.Format, realtime bool) *Stream {
	return &Stream{
		format:   f,
		realtime: realtime,
		samples:  samples,
		done:     make(chan struct{}),
	}
}

// Format returns the stored format of the file.
func (s *Stream) Format() audio.Format { return s.format }

// Read copies the next samples into p. It returns [io.EOF] once the file is
// exhausted and [audio.ErrStreamClosed] after Close.
func (s *Stream) Read(p []float32) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, audio.ErrStreamClosed
	}
	if s.pos >= len(s.samples) {
		s.mu.Unlock()
		return 0, io.EOF
	}
	n := copy(p, s.samples[s.pos:])
	s.pos += n
	s.mu.Unlock()

	if s.realtime {
		if err := s.pace(n); err != nil {
			return n, err
		}
	}
	return n, nil
}

// pace sleeps for the playback time of n interleaved samples, or until
// Close.
func (s *Stream) pace(n int) error {
	frames := n / max(s.format.Channels, 1)
	if s.format.SampleRate <= 0 || frames == 0 {
		return nil
	}
	d := time.Duration(frames) * time.Second / time.Duration(s.format.SampleRate)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-s.done:
		return audio.ErrStreamClosed
	}
}

// Close releases the samples. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.samples = nil
		close(s.done)
	}
	return nil
}

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Stream     = (*Stream)(nil)
)
