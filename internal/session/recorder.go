package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxquill/pkg/audio"
)

// readBlock is the capture read granularity.
const readBlock = 20 * time.Millisecond

// Recorder cuts a capture [audio.Stream] into consecutive fixed-duration
// windows and hands each one off as a WAV-encoded [audio.Window].
//
// Windows are contiguous: the next window starts with the first sample after
// the previous one, so no audio is lost at boundaries. Sequence numbers start
// at 1 and increase by one per window.
//
// The Recorder owns the stream and closes it when [Recorder.Run] returns.
type Recorder struct {
	stream  audio.Stream
	window  time.Duration
	handoff func(audio.Window)
	log     *slog.Logger
	now     func() time.Time

	stopped atomic.Bool
	seq     uint64
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger. Default: slog.Default().
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock overrides the clock used for [audio.Window.CapturedAt].
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder returns a Recorder that emits windows of the given duration to
// handoff. handoff is called from the Run goroutine and should return quickly.
func NewRecorder(stream audio.Stream, window time.Duration, handoff func(audio.Window), opts ...RecorderOption) *Recorder {
	r := &Recorder{
		stream:  stream,
		window:  window,
		handoff: handoff,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Stop asks Run to flush the current partial window as the final one and
// return. Stop does not block and is safe to call more than once.
func (r *Recorder) Stop() { r.stopped.Store(true) }

// Windows returns how many windows have been emitted. Only valid after Run
// has returned.
func (r *Recorder) Windows() uint64 { return r.seq }

// Run captures until Stop is called, ctx is cancelled or the stream ends.
// The buffered remainder is always emitted as the final window. A read error
// other than end of stream is returned after that flush.
func (r *Recorder) Run(ctx context.Context) error {
	defer func() {
		if err := r.stream.Close(); err != nil {
			r.log.Warn("recorder: close stream", "err", err)
		}
	}()

	f := r.stream.Format()
	if f.Channels <= 0 {
		f.Channels = 1
	}
	frames := int(int64(f.SampleRate) * int64(r.window) / int64(time.Second))
	if frames <= 0 {
		return fmt.Errorf("recorder: window %s too short for %d Hz", r.window, f.SampleRate)
	}
	windowSamples := frames * f.Channels

	blockFrames := int(int64(f.SampleRate) * int64(readBlock) / int64(time.Second))
	block := make([]float32, max(blockFrames, 1)*f.Channels)
	buf := make([]float32, 0, windowSamples)
	started := r.now()

	emit := func(final bool) {
		if len(buf) == 0 {
			return
		}
		r.emit(buf, f, started, final)
		buf = make([]float32, 0, windowSamples)
		started = r.now()
	}

	for {
		if r.stopped.Load() || ctx.Err() != nil {
			emit(true)
			return nil
		}

		n, err := r.stream.Read(block)
		data := block[:n]
		for len(data) > 0 {
			take := min(windowSamples-len(buf), len(data))
			buf = append(buf, data[:take]...)
			data = data[take:]
			if len(buf) == windowSamples {
				emit(false)
			}
		}

		if err != nil {
			emit(true)
			if errors.Is(err, io.EOF) || errors.Is(err, audio.ErrStreamClosed) {
				return nil
			}
			return fmt.Errorf("recorder: read: %w", err)
		}
	}
}

// emit encodes samples and hands the window off. An encoding failure still
// hands off a window, with nil Data, so the sequence stays gapless.
func (r *Recorder) emit(samples []float32, f audio.Format, started time.Time, final bool) {
	r.seq++
	w := audio.Window{Seq: r.seq, CapturedAt: started, Final: final}

	var b audio.Buffer
	if err := audio.WriteWAV(&b, samples, f); err != nil {
		r.log.Error("recorder: encode window", "seq", r.seq, "err", err)
	} else {
		w.Data = b.Bytes()
	}
	r.log.Debug("recorder: window captured", "seq", w.Seq, "samples", len(samples), "final", final)
	r.handoff(w)
}
