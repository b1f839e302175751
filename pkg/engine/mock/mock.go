// Package mock provides a test double for the engine.Engine interface.
//
// Use Engine to script transcription results per call and to observe how
// often Initialize and Transcribe were invoked.
//
// Example:
//
//	e := &mock.Engine{
//	    TranscribeFunc: func(_ context.Context, s []float32) (engine.Result, error) {
//	        return engine.Result{Text: "hello"}, nil
//	    },
//	}
//	h := engine.NewHandle(func() (engine.Engine, error) { return e, nil })
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxquill/pkg/engine"
)

// Engine is a mock implementation of engine.Engine.
type Engine struct {
	mu sync.Mutex

	// VariantResult is returned by Variant. Defaults to engine.VariantSubprocess.
	VariantResult engine.Variant

	// InitializeFunc, if set, is called by Initialize.
	InitializeFunc func(ctx context.Context, p engine.ProgressReporter) error

	// TranscribeFunc, if set, is called by Transcribe. Otherwise Transcribe
	// returns TranscribeResult, TranscribeErr.
	TranscribeFunc func(ctx context.Context, samples []float32) (engine.Result, error)

	TranscribeResult engine.Result
	TranscribeErr    error

	// CloseErr is returned by Close.
	CloseErr error

	initCalls       int
	transcribeCalls int
	closeCalls      int
	initialized     bool
}

// Initialize implements engine.Engine.
func (e *Engine) Initialize(ctx context.Context, p engine.ProgressReporter) error {
	e.mu.Lock()
	e.initCalls++
	fn := e.InitializeFunc
	e.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(ctx, p)
	}
	if err == nil {
		e.mu.Lock()
		e.initialized = true
		e.mu.Unlock()
	}
	return err
}

// Transcribe implements engine.Engine. It returns engine.ErrNotInitialized
// before a successful Initialize.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (engine.Result, error) {
	e.mu.Lock()
	e.transcribeCalls++
	ready := e.initialized
	fn := e.TranscribeFunc
	res, err := e.TranscribeResult, e.TranscribeErr
	e.mu.Unlock()

	if !ready {
		return engine.Result{}, engine.ErrNotInitialized
	}
	if fn != nil {
		return fn(ctx, samples)
	}
	return res, err
}

// Close implements engine.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeCalls++
	e.initialized = false
	return e.CloseErr
}

// Variant implements engine.Engine.
func (e *Engine) Variant() engine.Variant {
	if e.VariantResult == "" {
		return engine.VariantSubprocess
	}
	return e.VariantResult
}

// InitCalls returns the number of Initialize calls.
func (e *Engine) InitCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initCalls
}

// TranscribeCalls returns the number of Transcribe calls.
func (e *Engine) TranscribeCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcribeCalls
}

// CloseCalls returns the number of Close calls.
func (e *Engine) CloseCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeCalls
}

var _ engine.Engine = (*Engine)(nil)
