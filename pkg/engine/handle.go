package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Factory builds a fresh, uninitialised Engine.
type Factory func() (Engine, error)

// Handle owns the single live Engine of a session. The engine is created
// lazily on the first Initialize or Transcribe call and torn down by Close.
//
// Initialisation is single-flight: concurrent callers share one provisioning
// and load sequence and all observe its outcome. A failed attempt discards
// the engine so that the next call starts again from scratch.
type Handle struct {
	factory  Factory
	progress ProgressReporter

	// ctx bounds every initialisation; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	group singleflight.Group

	mu     sync.Mutex
	eng    Engine
	ready  bool
	closed bool
}

// HandleOption configures a [Handle].
type HandleOption func(*Handle)

// WithProgress sets the reporter that receives initialisation progress.
func WithProgress(p ProgressReporter) HandleOption {
	return func(h *Handle) { h.progress = p }
}

// NewHandle returns a Handle that builds its engine with factory.
func NewHandle(factory Factory, opts ...HandleOption) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{factory: factory, ctx: ctx, cancel: cancel}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Initialize makes sure the engine is provisioned and loaded. A second caller
// arriving while an initialisation is in flight waits for that attempt
// instead of starting another. ctx only bounds how long this caller waits.
func (h *Handle) Initialize(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.ready {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	ch := h.group.DoChan("init", func() (any, error) {
		return nil, h.initialize()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("engine: waiting for initialization: %w", ctx.Err())
	}
}

func (h *Handle) initialize() error {
	h.mu.Lock()
	if h.ready {
		h.mu.Unlock()
		return nil
	}
	eng := h.eng
	h.mu.Unlock()

	if eng == nil {
		var err error
		if eng, err = h.factory(); err != nil {
			return fmt.Errorf("engine: create: %w", err)
		}
	}

	err := eng.Initialize(h.ctx, h.progress)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = eng.Close()
		return ErrClosed
	}
	if err != nil {
		if closeErr := eng.Close(); closeErr != nil {
			slog.Warn("engine: close after failed initialization", "err", closeErr)
		}
		h.eng = nil
		return err
	}
	h.eng = eng
	h.ready = true
	return nil
}

// Transcribe initialises the engine if needed and transcribes samples.
func (h *Handle) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	if err := h.Initialize(ctx); err != nil {
		return Result{}, err
	}
	h.mu.Lock()
	eng := h.eng
	h.mu.Unlock()
	if eng == nil {
		return Result{}, ErrNotInitialized
	}
	return eng.Transcribe(ctx, samples)
}

// Ready reports whether the engine has been initialised successfully.
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Variant reports the live engine's variant, or "" before initialisation.
func (h *Handle) Variant() Variant {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.eng == nil {
		return ""
	}
	return h.eng.Variant()
}

// Close cancels any in-flight initialisation and releases the engine.
// Calling Close more than once is safe and returns nil.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.ready = false
	eng := h.eng
	h.eng = nil
	h.mu.Unlock()

	h.cancel()
	if eng == nil {
		return nil
	}
	if err := eng.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("engine: close: %w", err)
	}
	return nil
}
