// Package session runs a dictation session: it cuts microphone audio into
// fixed windows, transcribes them concurrently and inserts the text into a
// document in capture order.
//
// The pieces are:
//
//   - [Recorder] captures contiguous windows from an audio stream.
//   - [Pipeline] decodes, resamples and transcribes windows with a bounded
//     number in flight.
//   - [Sequencer] releases texts to the [DocumentSink] in sequence order,
//     after the content [Filter].
//   - [Session] ties them together behind Start, Stop and Dispose.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxquill/internal/observe"
	"github.com/MrWong99/voxquill/internal/resilience"
	"github.com/MrWong99/voxquill/pkg/audio"
)

// DefaultChunkDuration is used when no settings source is configured.
const DefaultChunkDuration = 10 * time.Second

var (
	// ErrNotIdle is returned by Start while a recording is running or still
	// draining.
	ErrNotIdle = errors.New("session: not idle")

	// ErrDisposed is returned by every operation after Dispose.
	ErrDisposed = errors.New("session: disposed")
)

// State is the recording state of a [Session].
type State int

const (
	// StateIdle accepts Start.
	StateIdle State = iota

	// StateRecording is capturing windows.
	StateRecording

	// StateStopping has stopped capturing and is draining dispatched
	// transcriptions through the sequencer.
	StateStopping
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Engine is the engine handle a session drives. [*engine.Handle] satisfies
// it.
type Engine interface {
	Transcriber
	Initialize(ctx context.Context) error
	Close() error
}

// SettingsSource supplies user settings read at every Start.
type SettingsSource interface {
	ChunkDuration() time.Duration
}

// Config holds the collaborators and tuning of a [Session].
type Config struct {
	// ID identifies the session in logs and the journal. Empty generates a
	// random UUID.
	ID string

	// Engine is initialised on Start. Required.
	Engine Engine

	// Microphone is acquired on every Start. Required.
	Microphone audio.Microphone

	// Sink receives the transcript. Required.
	Sink DocumentSink

	// Settings supplies the chunk duration. nil uses DefaultChunkDuration.
	Settings SettingsSource

	// Constraints are passed to Microphone.Acquire.
	Constraints audio.Constraints

	// Filter drops non-speech chunk texts. nil uses DefaultFillerTokens.
	Filter *Filter

	// Cursor is the document position the first recording inserts at, e.g.
	// the length of an existing document.
	Cursor int

	MaxInFlight int
	MaxQueued   int

	Breaker *resilience.CircuitBreaker
	Journal Journal
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// recording is the state of one Start..drain cycle.
type recording struct {
	id   string
	rec  *Recorder
	pipe *Pipeline
	seq  *Sequencer
	done chan struct{}
	err  error
}

// Session is one dictation session. It is safe for concurrent use.
type Session struct {
	cfg     Config
	id      string
	log     *slog.Logger
	metrics *observe.Metrics

	// ctx outlives individual recordings so Stop never aborts dispatched
	// transcriptions. Cancelled by Dispose.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	disposed bool
	cursor   int
	current  *recording
	last     *recording
	swap     Engine

	// stopRequested records a Stop that arrived while Start was still
	// initialising the engine or acquiring the microphone.
	stopRequested bool
}

// New validates cfg and returns an idle Session.
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.Engine == nil {
		errs = append(errs, errors.New("session: engine is required"))
	}
	if cfg.Microphone == nil {
		errs = append(errs, errors.New("session: microphone is required"))
	}
	if cfg.Sink == nil {
		errs = append(errs, errors.New("session: sink is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:     cfg,
		id:      id,
		log:     cfg.Logger.With("session_id", id),
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		cursor:  max(cfg.Cursor, 0),
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current recording state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor returns the document cursor after the last completed recording.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// SwapEngine replaces the engine at the next Start. The previous engine is
// closed at that point. Use it to apply a changed model.
func (s *Session) SwapEngine(e Engine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.swap = e
	return nil
}

// SetFilter replaces the content filter from the next Start. nil restores
// the default filler tokens.
func (s *Session) SetFilter(f *Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.cfg.Filter = f
	return nil
}

// Start initialises the engine if needed, acquires the microphone and begins
// capturing. It returns once capture is running. ctx bounds initialisation
// and acquisition only.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.state = StateRecording
	s.stopRequested = false
	if s.swap != nil {
		old := s.cfg.Engine
		s.cfg.Engine, s.swap = s.swap, nil
		if err := old.Close(); err != nil {
			s.log.Warn("session: close replaced engine", "err", err)
		}
	}
	eng, filter, cursor := s.cfg.Engine, s.cfg.Filter, s.cursor
	s.mu.Unlock()

	rec, err := s.prepare(ctx, eng, filter, cursor)
	if err != nil {
		s.mu.Lock()
		s.stopRequested = false
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.disposed || s.stopRequested {
		disposed := s.disposed
		s.stopRequested = false
		s.mu.Unlock()

		// Closes the stream without emitting a window.
		rec.rec.Stop()
		_ = rec.rec.Run(context.Background())
		close(rec.done)

		s.mu.Lock()
		s.last = rec
		s.state = StateIdle
		s.mu.Unlock()
		if disposed {
			return ErrDisposed
		}
		s.log.Info("session: stopped before capture began", "recording_id", rec.id)
		return nil
	}
	s.current = rec
	s.mu.Unlock()

	s.metrics.ActiveRecordings.Add(s.ctx, 1)
	s.log.Info("session: recording started", "recording_id", rec.id)
	go s.record(rec)
	return nil
}

func (s *Session) prepare(ctx context.Context, eng Engine, filter *Filter, cursor int) (*recording, error) {
	if err := eng.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("session: initialize engine: %w", err)
	}
	stream, err := s.cfg.Microphone.Acquire(ctx, s.cfg.Constraints)
	if err != nil {
		return nil, fmt.Errorf("session: acquire microphone: %w", err)
	}

	id := uuid.NewString()
	log := s.log.With("recording_id", id)
	seq := NewSequencer(s.cfg.Sink,
		WithFilter(filter),
		WithCursor(cursor),
		WithSequencerLogger(log),
	)
	pipe := NewPipeline(s.ctx, PipelineConfig{
		Engine:      eng,
		Sequencer:   seq,
		RecordingID: id,
		MaxInFlight: s.cfg.MaxInFlight,
		MaxQueued:   s.cfg.MaxQueued,
		Breaker:     s.cfg.Breaker,
		Journal:     s.cfg.Journal,
		Metrics:     s.metrics,
		Logger:      s.log,
	})
	window := DefaultChunkDuration
	if s.cfg.Settings != nil {
		window = s.cfg.Settings.ChunkDuration()
	}
	return &recording{
		id:   id,
		rec:  NewRecorder(stream, window, pipe.Dispatch, WithRecorderLogger(log)),
		pipe: pipe,
		seq:  seq,
		done: make(chan struct{}),
	}, nil
}

// record runs capture to completion, then drains the pipeline.
func (s *Session) record(r *recording) {
	defer close(r.done)

	r.err = r.rec.Run(s.ctx)
	s.metrics.ActiveRecordings.Add(s.ctx, -1)
	if r.err != nil {
		s.log.Error("session: capture ended with error", "recording_id", r.id, "err", r.err)
	}
	s.setState(StateStopping)

	if err := r.pipe.Wait(s.ctx); err != nil {
		s.log.Warn("session: drain interrupted", "recording_id", r.id, "err", err)
	}

	s.mu.Lock()
	s.cursor = r.seq.Cursor()
	s.current = nil
	s.last = r
	s.state = StateIdle
	s.mu.Unlock()

	s.log.Info("session: recording finished",
		"recording_id", r.id,
		"windows", r.rec.Windows(),
		"inserted", r.seq.Inserted(),
		"outcomes", r.pipe.Counts(),
	)
}

// Stop ends capture. The window being captured is flushed as the final
// chunk and every dispatched transcription still reaches the document. Stop
// returns immediately; use Wait to block until the session is idle again.
// A Stop during Start's engine initialisation makes Start release the
// microphone without capturing. Stop on an idle session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	s.state = StateStopping
	if s.current == nil {
		s.stopRequested = true
		return
	}
	s.current.rec.Stop()
}

// Wait blocks until the current recording, if any, is fully drained. It
// returns the capture error of that recording.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	r := s.current
	if r == nil {
		r = s.last
	}
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose stops any recording, waits for it to drain within ctx and closes
// the engine. Dispose is safe to call more than once.
func (s *Session) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.mu.Unlock()

	s.Stop()
	waitErr := s.Wait(ctx)
	if errors.Is(waitErr, context.Canceled) || errors.Is(waitErr, context.DeadlineExceeded) {
		waitErr = fmt.Errorf("session: dispose: %w", waitErr)
	} else {
		waitErr = nil
	}
	s.cancel()

	s.mu.Lock()
	eng, swap := s.cfg.Engine, s.swap
	s.swap = nil
	s.mu.Unlock()

	errs := []error{waitErr}
	if err := eng.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session: close engine: %w", err))
	}
	if swap != nil {
		if err := swap.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close engine: %w", err))
		}
	}
	s.log.Info("session: disposed")
	return errors.Join(errs...)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}
