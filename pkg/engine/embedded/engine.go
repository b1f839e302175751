package embedded

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/voxquill/pkg/engine"
	"github.com/MrWong99/voxquill/pkg/provision"
)

// Engine holds one loaded model. Transcribe calls share it and may run
// concurrently.
type Engine struct {
	prov *provision.Provisioner
	cfg  Config
	opts options

	mu      sync.RWMutex
	loading bool
	model   Model
	closed  bool
}

// New returns an unloaded Engine.
func New(prov *provision.Provisioner, cfg Config, opts ...Option) *Engine {
	return &Engine{prov: prov, cfg: cfg.withDefaults(), opts: buildOptions(opts)}
}

// Variant implements engine.Engine.
func (e *Engine) Variant() engine.Variant { return engine.VariantEmbedded }

// Initialize downloads the model if needed and loads it. A call made while
// another load is running returns [engine.ErrLoadInProgress] immediately.
func (e *Engine) Initialize(ctx context.Context, rep engine.ProgressReporter) error {
	if e.opts.loader == nil {
		return &engine.ProvisioningError{Op: "load model", Err: ErrNotCompiled}
	}

	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return engine.ErrClosed
	case e.model != nil:
		e.mu.Unlock()
		return nil
	case e.loading:
		e.mu.Unlock()
		return engine.ErrLoadInProgress
	}
	e.loading = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.loading = false
		e.mu.Unlock()
	}()

	name := provision.ModelFilename(e.cfg.ModelID)
	offline := e.prov.Store().Model(name).Present
	if offline {
		e.opts.log.Info("embedded: loading cached model", "model", name)
	} else {
		e.opts.log.Info("embedded: model not cached, downloading", "model", name)
	}

	path, err := e.prov.EnsureModel(ctx, e.cfg.ModelID, rep)
	if err != nil {
		return err
	}

	engine.Report(rep, engine.Progress{Phase: engine.PhaseLoading, Asset: name, Offline: offline})
	model, err := e.opts.loader(path, e.cfg)
	if err != nil {
		return &engine.ProvisioningError{Op: "load model", Err: fmt.Errorf("%s: %w", path, err)}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = model.Close()
		return engine.ErrClosed
	}
	e.model = model
	e.mu.Unlock()

	engine.Report(rep, engine.Progress{Phase: engine.PhaseReady, Asset: name, Offline: offline})
	e.opts.log.Info("embedded: model ready", "model", name)
	return nil
}

// Transcribe implements engine.Engine.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return engine.Result{}, engine.ErrClosed
	}
	if e.model == nil {
		return engine.Result{}, engine.ErrNotInitialized
	}
	text, err := e.model.Transcribe(ctx, samples)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Result{Text: text}, nil
}

// Close releases the model. Calling Close more than once is safe.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	return err
}
