// Package engine defines the Engine interface shared by the speech-recognition
// backends, together with the error taxonomy, progress reporting, and the
// single-flight [Handle] that owns the one live engine of a session.
//
// Two implementations exist:
//
//   - engine/subprocess runs a provisioned whisper.cpp command-line binary once
//     per chunk.
//   - engine/embedded loads a whisper.cpp model in-process via the CGO
//     bindings and calls it directly.
//
// Which one a host uses is decided by [Choose] from [PlatformFacts].
//
// Implementations must be safe for concurrent use: several chunks may be
// transcribed at once.
package engine

import "context"

// Variant identifies an Engine implementation.
type Variant string

const (
	// VariantSubprocess shells out to the native whisper.cpp binary.
	VariantSubprocess Variant = "subprocess"

	// VariantEmbedded runs whisper.cpp in-process.
	VariantEmbedded Variant = "embedded"
)

// Result is the text recognised in one chunk of audio.
type Result struct {
	Text string
}

// Engine is the capability interface every speech-recognition backend
// implements.
type Engine interface {
	// Initialize provisions and loads whatever the engine needs (binary,
	// model). It reports progress through p, which may be nil. Initialize is
	// idempotent once it has succeeded.
	Initialize(ctx context.Context, p ProgressReporter) error

	// Transcribe recognises 16 kHz mono samples in [-1, 1]. It returns
	// [ErrNotInitialized] when called before a successful Initialize.
	Transcribe(ctx context.Context, samples []float32) (Result, error)

	// Close releases the engine. Calling Close more than once is safe.
	Close() error

	// Variant reports which implementation this is.
	Variant() Variant
}
