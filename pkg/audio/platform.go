// Package audio defines the capture interfaces and PCM helpers used by the
// dictation pipeline.
//
// The two primary abstractions are:
//
//   - [Microphone] — acquires the capture device and returns a [Stream].
//   - [Stream] — an open capture stream delivering interleaved float32
//     samples in the stream's native [Format].
//
// Implementations are provided by device adapter packages (e.g.
// audio/portaudio). The package also owns the canonical WAV encoding consumed
// by the subprocess engine and the resampling applied before inference.
package audio

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by [Stream.Read] after the stream was closed.
var ErrStreamClosed = errors.New("audio: stream closed")

// Constraints are the capture parameters requested from a [Microphone]. The
// device may deliver a different format; callers must honour [Stream.Format].
type Constraints struct {
	// SampleRate is the preferred capture rate in Hz. Zero lets the device decide.
	SampleRate int

	// Channels is the preferred channel count. Zero means mono.
	Channels int
}

// Stream is an open microphone capture.
//
// Read blocks until at least one sample is available and fills p with
// interleaved samples in [-1, 1]. It returns [io.EOF] when the device has no
// more data and [ErrStreamClosed] after Close. Close is safe to call more than
// once.
type Stream interface {
	Format() Format
	Read(p []float32) (int, error)
	Close() error
}

// Microphone is the entry point for a capture device. Acquire asks the
// platform for access (including any permission prompt) and opens a stream.
type Microphone interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}
