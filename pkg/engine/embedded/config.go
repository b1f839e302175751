// Package embedded implements engine.Engine in-process on top of the
// whisper.cpp Go bindings.
//
// The bindings need CGO and libwhisper at link time, so the whisper.cpp
// [ModelLoader] is only compiled with the "whispercpp" build tag. Without it
// [Compiled] is false and Initialize fails with [ErrNotCompiled] unless a
// loader is supplied with [WithModelLoader]; engine selection then prefers
// the subprocess variant.
package embedded

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/voxquill/pkg/engine"
	"github.com/MrWong99/voxquill/pkg/provision"
)

// ErrNotCompiled is returned by Initialize when the binary was built without
// the whispercpp tag.
var ErrNotCompiled = errors.New("embedded: whisper.cpp bindings not compiled in (build with -tags whispercpp)")

var _ engine.Engine = (*Engine)(nil)

// Config is fixed for the lifetime of an Engine.
type Config struct {
	// ModelID is the logical model identifier, see provision.ModelFilename.
	ModelID string

	// Language is the spoken language code, "auto" or empty for the model
	// default.
	Language string

	// Threads caps the inference threads. Zero uses the library default.
	Threads int
}

// Option configures an [Engine].
type Option func(*options)

// Model is a loaded speech model. Transcribe may be called concurrently.
type Model interface {
	Transcribe(ctx context.Context, samples []float32) (string, error)
	Close() error
}

// ModelLoader loads the model file at path.
type ModelLoader func(path string, cfg Config) (Model, error)

type options struct {
	log    *slog.Logger
	loader ModelLoader
}

// WithModelLoader replaces the whisper.cpp loader.
func WithModelLoader(l ModelLoader) Option {
	return func(o *options) {
		if l != nil {
			o.loader = l
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: slog.Default(), loader: defaultLoader}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (c Config) withDefaults() Config {
	if c.ModelID == "" {
		c.ModelID = provision.DefaultModelID
	}
	return c
}
