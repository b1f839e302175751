// Package mock provides in-memory implementations of [audio.Microphone] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so that tests can
// assert on them, and expose exported fields that control behaviour.
//
// Typical usage:
//
//	stream := &mock.Stream{
//	    FormatResult: audio.Format{SampleRate: 16000, Channels: 1},
//	    Samples:      pcm,
//	}
//	mic := &mock.Microphone{Stream: stream}
//	s, err := mic.Acquire(ctx, audio.Constraints{})
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/voxquill/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Stream is returned by Acquire. When nil a silent endless Stream at
	// 16 kHz mono is returned.
	Stream *Stream

	// AcquireErr, if non-nil, is returned by Acquire.
	AcquireErr error

	// AcquireCalls records the constraints of every Acquire call.
	AcquireCalls []audio.Constraints
}

// Acquire implements [audio.Microphone].
func (m *Microphone) Acquire(_ context.Context, c audio.Constraints) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AcquireCalls = append(m.AcquireCalls, c)
	if m.AcquireErr != nil {
		return nil, m.AcquireErr
	}
	if m.Stream == nil {
		m.Stream = &Stream{FormatResult: audio.ModelFormat, Loop: true}
	}
	return m.Stream, nil
}

// AcquireCount returns the number of Acquire calls.
func (m *Microphone) AcquireCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AcquireCalls)
}

var _ audio.Microphone = (*Microphone)(nil)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream] serving samples from
// memory.
type Stream struct {
	mu sync.Mutex

	// FormatResult is returned by Format. Defaults to 16 kHz mono.
	FormatResult audio.Format

	// Samples is the interleaved sample data delivered by Read. When empty,
	// Read delivers silence.
	Samples []float32

	// Loop restarts Samples from the beginning once drained. When false, Read
	// returns io.EOF after the last sample (unless Samples is empty).
	Loop bool

	// BlockSize caps the number of samples returned per Read. Default: 160.
	BlockSize int

	// Delay is slept before every Read, simulating device pacing.
	Delay time.Duration

	// ReadErr, if non-nil, is returned by every Read.
	ReadErr error

	pos      int
	closed   bool
	reads    int
	closeCnt int
}

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FormatResult.SampleRate == 0 {
		return audio.ModelFormat
	}
	return s.FormatResult
}

// Read implements [audio.Stream].
func (s *Stream) Read(p []float32) (int, error) {
	s.mu.Lock()
	delay := s.Delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.closed {
		return 0, audio.ErrStreamClosed
	}
	if s.ReadErr != nil {
		return 0, s.ReadErr
	}

	block := s.BlockSize
	if block <= 0 {
		block = 160
	}
	if block > len(p) {
		block = len(p)
	}

	if len(s.Samples) == 0 {
		clear(p[:block])
		return block, nil
	}
	if s.pos >= len(s.Samples) {
		if !s.Loop {
			return 0, io.EOF
		}
		s.pos = 0
	}
	n := copy(p[:block], s.Samples[s.pos:])
	s.pos += n
	return n, nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCnt++
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reads returns the number of Read calls so far.
func (s *Stream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

var _ audio.Stream = (*Stream)(nil)
