package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxquill/internal/observe"
	"github.com/MrWong99/voxquill/internal/resilience"
	"github.com/MrWong99/voxquill/pkg/audio"
	"github.com/MrWong99/voxquill/pkg/engine"
)

// ErrQueueFull is recorded for windows dropped because too many were already
// waiting for the engine.
var ErrQueueFull = errors.New("session: transcription queue full")

// Default concurrency bounds for a [Pipeline].
const (
	DefaultMaxInFlight = 2
	DefaultMaxQueued   = 8
)

// Transcriber is the part of the engine the pipeline calls.
// [*engine.Handle] satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (engine.Result, error)
}

// ChunkResult is the terminal outcome of one window.
type ChunkResult struct {
	Seq        uint64
	Text       string
	Status     string
	Err        error
	Latency    time.Duration
	CapturedAt time.Time
	Final      bool

	// Audio is the length of the decoded chunk; zero when decoding failed.
	Audio time.Duration
}

// Journal persists chunk outcomes. Implementations must be safe for
// concurrent use.
type Journal interface {
	RecordChunk(ctx context.Context, recordingID string, r ChunkResult) error
}

// PipelineConfig holds the collaborators of a [Pipeline].
type PipelineConfig struct {
	// Engine transcribes decoded windows. Required.
	Engine Transcriber

	// Sequencer receives every window's text in completion order. Required.
	Sequencer *Sequencer

	// RecordingID tags journal entries and log lines.
	RecordingID string

	// MaxInFlight bounds concurrent engine calls. Default: DefaultMaxInFlight.
	MaxInFlight int

	// MaxQueued bounds windows waiting for an engine slot. Windows beyond
	// MaxInFlight+MaxQueued are dropped. Default: DefaultMaxQueued.
	MaxQueued int

	// Breaker, if set, guards every engine call.
	Breaker *resilience.CircuitBreaker

	// Journal, if set, records every outcome.
	Journal Journal

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Pipeline transcribes windows concurrently and forwards every outcome to the
// [Sequencer], including failures as empty text so ordering never stalls.
//
// Transcriptions run on the context passed to [NewPipeline], not the
// recording's, so stopping capture lets queued work finish.
type Pipeline struct {
	cfg     PipelineConfig
	ctx     context.Context
	sem     *semaphore.Weighted
	limit   int64
	conv    audio.Converter
	metrics *observe.Metrics
	log     *slog.Logger

	wg      sync.WaitGroup
	pending atomic.Int64

	mu     sync.Mutex
	counts map[string]int
}

// NewPipeline returns a Pipeline whose transcriptions run on ctx.
func NewPipeline(ctx context.Context, cfg PipelineConfig) *Pipeline {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.MaxQueued < 0 {
		cfg.MaxQueued = 0
	} else if cfg.MaxQueued == 0 {
		cfg.MaxQueued = DefaultMaxQueued
	}
	p := &Pipeline{
		cfg:     cfg,
		ctx:     ctx,
		sem:     semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		limit:   int64(cfg.MaxInFlight + cfg.MaxQueued),
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		counts:  make(map[string]int),
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("recording_id", cfg.RecordingID)
	return p
}

// Dispatch schedules w for transcription and returns immediately.
func (p *Pipeline) Dispatch(w audio.Window) {
	p.wg.Add(1)
	if p.pending.Add(1) > p.limit {
		p.pending.Add(-1)
		go func() {
			defer p.wg.Done()
			p.finish(p.ctx, w, ChunkResult{Status: observe.StatusDropped, Err: ErrQueueFull})
		}()
		return
	}
	p.metrics.InFlight.Add(p.ctx, 1)
	go p.run(w)
}

// Wait blocks until every dispatched window has reached the sequencer or ctx
// is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Counts returns the number of finished windows per status.
func (p *Pipeline) Counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

func (p *Pipeline) run(w audio.Window) {
	defer p.wg.Done()
	defer p.pending.Add(-1)
	defer p.metrics.InFlight.Add(p.ctx, -1)

	ctx, span := observe.StartSpan(p.ctx, "session.transcribe",
		trace.WithAttributes(attribute.Int64("chunk.seq", int64(w.Seq))),
	)
	defer span.End()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.finish(ctx, w, ChunkResult{Status: observe.StatusDropped, Err: err})
		return
	}
	defer p.sem.Release(1)

	samples, format, err := audio.DecodeWAV(w.Data)
	if err != nil {
		err = &engine.DecodeError{Seq: w.Seq, Err: err}
		span.SetStatus(codes.Error, err.Error())
		p.finish(ctx, w, ChunkResult{Status: observe.StatusDecodeError, Err: err})
		return
	}
	chunk := audio.Chunk{
		Seq:        w.Seq,
		Samples:    p.conv.Convert(samples, format),
		SampleRate: audio.ModelFormat.SampleRate,
		CapturedAt: w.CapturedAt,
	}
	span.SetAttributes(attribute.Int64("chunk.audio_ms", chunk.Duration().Milliseconds()))

	start := time.Now()
	var out engine.Result
	call := func(ctx context.Context) error {
		var err error
		out, err = p.cfg.Engine.Transcribe(ctx, chunk.Samples)
		return err
	}
	if p.cfg.Breaker != nil {
		err = p.cfg.Breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	res := ChunkResult{Text: out.Text, Status: observe.StatusOK}
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		res = ChunkResult{Status: observe.StatusBreakerOpen, Err: err}
	case err != nil:
		res = ChunkResult{Status: observe.StatusFailed, Err: err, Latency: time.Since(start)}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		res.Latency = time.Since(start)
	}
	res.Audio = chunk.Duration()
	p.finish(ctx, w, res)
}

func (p *Pipeline) finish(ctx context.Context, w audio.Window, res ChunkResult) {
	res.Seq = w.Seq
	res.CapturedAt = w.CapturedAt
	res.Final = w.Final

	p.cfg.Sequencer.Submit(ctx, res.Seq, res.Text)
	p.metrics.RecordChunk(ctx, res.Status, res.Latency)

	p.mu.Lock()
	p.counts[res.Status]++
	p.mu.Unlock()

	log := observe.Logger(ctx, p.log)
	if res.Err != nil {
		log.Warn("pipeline: chunk failed", "seq", res.Seq, "status", res.Status, "err", res.Err)
	} else {
		log.Debug("pipeline: chunk transcribed", "seq", res.Seq, "audio", res.Audio, "latency", res.Latency, "chars", len(res.Text))
	}

	if p.cfg.Journal != nil {
		if err := p.cfg.Journal.RecordChunk(ctx, p.cfg.RecordingID, res); err != nil {
			log.Error("pipeline: journal write failed", "seq", res.Seq, "err", err)
		}
	}
}
