// Package subprocess implements engine.Engine by running the whisper.cpp
// command-line binary once per chunk.
//
// Initialize provisions the binary and model through a
// [provision.Provisioner]. Transcribe writes the samples to a uniquely named
// temporary WAV file, runs the binary against it and returns its trimmed
// standard output. The temporary file is removed on every exit path.
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/voxquill/pkg/audio"
	"github.com/MrWong99/voxquill/pkg/engine"
	"github.com/MrWong99/voxquill/pkg/provision"
)

var _ engine.Engine = (*Engine)(nil)

// Engine runs the native whisper.cpp binary per transcription.
type Engine struct {
	prov      *provision.Provisioner
	desc      provision.Descriptor
	modelID   string
	language  string
	threads   int
	extraArgs []string
	tempDir   string
	log       *slog.Logger

	mu     sync.RWMutex
	binary string
	model  string
	closed bool
}

// Option configures an [Engine].
type Option func(*Engine) error

// WithModel selects the logical model identifier. Default:
// [provision.DefaultModelID].
func WithModel(id string) Option {
	return func(e *Engine) error {
		if id != "" {
			e.modelID = id
		}
		return nil
	}
}

// WithLanguage passes -l to the binary. Empty leaves the binary's default.
func WithLanguage(lang string) Option {
	return func(e *Engine) error { e.language = lang; return nil }
}

// WithThreads passes -t to the binary when n > 0.
func WithThreads(n int) Option {
	return func(e *Engine) error { e.threads = n; return nil }
}

// WithExtraArgs appends shell-words style arguments to every invocation,
// e.g. `--beam-size 5 --no-fallback`.
func WithExtraArgs(line string) Option {
	return func(e *Engine) error {
		if strings.TrimSpace(line) == "" {
			return nil
		}
		args, err := shellwords.Parse(line)
		if err != nil {
			return fmt.Errorf("subprocess: parse extra args: %w", err)
		}
		e.extraArgs = args
		return nil
	}
}

// WithTempDir sets the directory for per-call WAV files. Default: os.TempDir().
func WithTempDir(dir string) Option {
	return func(e *Engine) error { e.tempDir = dir; return nil }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) error {
		if l != nil {
			e.log = l
		}
		return nil
	}
}

// New returns an uninitialised Engine that provisions through prov for the
// platform described by desc.
func New(prov *provision.Provisioner, desc provision.Descriptor, opts ...Option) (*Engine, error) {
	if prov == nil {
		return nil, errors.New("subprocess: provisioner must not be nil")
	}
	e := &Engine{
		prov:    prov,
		desc:    desc,
		modelID: provision.DefaultModelID,
		log:     slog.Default(),
	}
	for _, o := range opts {
		if err := o(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Variant implements engine.Engine.
func (e *Engine) Variant() engine.Variant { return engine.VariantSubprocess }

// Initialize provisions the binary and then the model. Both steps are no-ops
// when the artifacts are cached.
func (e *Engine) Initialize(ctx context.Context, rep engine.ProgressReporter) error {
	e.mu.RLock()
	done, closed := e.binary != "", e.closed
	e.mu.RUnlock()
	if closed {
		return engine.ErrClosed
	}
	if done {
		return nil
	}

	offline := e.prov.Cached(e.desc, e.modelID)
	e.log.Info("subprocess: initializing", "asset", e.desc.ArchiveAssetName, "model", e.modelID, "offline", offline)

	bin, err := e.prov.EnsureBinary(ctx, e.desc, rep)
	if err != nil {
		return err
	}
	model, err := e.prov.EnsureModel(ctx, e.modelID, rep)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.binary, e.model = bin, model
	e.mu.Unlock()

	engine.Report(rep, engine.Progress{Phase: engine.PhaseReady, Asset: filepath.Base(model), Offline: offline})
	return nil
}

// Transcribe implements engine.Engine.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (engine.Result, error) {
	e.mu.RLock()
	bin, model, closed := e.binary, e.model, e.closed
	e.mu.RUnlock()
	if closed {
		return engine.Result{}, engine.ErrClosed
	}
	if bin == "" {
		return engine.Result{}, engine.ErrNotInitialized
	}

	dir := e.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	wavPath := filepath.Join(dir, "voxquill-"+uuid.NewString()+".wav")
	f, err := os.OpenFile(wavPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return engine.Result{}, &engine.InvocationError{ExitCode: -1, Err: fmt.Errorf("create temp wav: %w", err)}
	}
	defer func() {
		if err := os.Remove(wavPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.log.Warn("subprocess: remove temp wav", "path", wavPath, "err", err)
		}
	}()

	err = audio.EncodeWAV(f, samples)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return engine.Result{}, &engine.InvocationError{ExitCode: -1, Err: fmt.Errorf("write temp wav: %w", err)}
	}

	cmd := exec.CommandContext(ctx, bin, e.args(model, wavPath)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		ie := &engine.InvocationError{ExitCode: -1, Stderr: strings.TrimSpace(stderr.String()), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ie.ExitCode = exitErr.ExitCode()
		}
		return engine.Result{}, ie
	}
	return engine.Result{Text: strings.TrimSpace(stdout.String())}, nil
}

func (e *Engine) args(model, wav string) []string {
	args := []string{"-m", model, "-f", wav, "-nt", "-np"}
	if e.language != "" {
		args = append(args, "-l", e.language)
	}
	if e.threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.threads))
	}
	return append(args, e.extraArgs...)
}

// Close marks the engine closed. Running invocations finish normally.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
