package engine

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by [Engine.Transcribe] when the engine has not
// completed a successful Initialize. The caller must initialise again.
var ErrNotInitialized = errors.New("engine: not initialized")

// ErrLoadInProgress is returned by an engine whose Initialize is already
// running on another goroutine. [Handle] never triggers it because it runs at
// most one Initialize at a time; direct callers should wait for the first
// call to finish.
var ErrLoadInProgress = errors.New("engine: initialization already in progress")

// ErrClosed is returned after the engine or handle was closed.
var ErrClosed = errors.New("engine: closed")

// ProvisioningError reports a failed binary or model acquisition: network
// failure, unexpected HTTP status, a missing release asset, a failed archive
// extraction, or an executable that could not be found after extraction. It
// aborts the current initialisation attempt and leaves no engine state behind.
type ProvisioningError struct {
	// Op names the provisioning step that failed, e.g. "ensure binary".
	Op  string
	Err error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("engine: provisioning: %s: %v", e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// InvocationError reports a failed engine call for a single chunk: the process
// could not be spawned, or it exited with a non-zero status. The chunk is
// dropped and the session continues.
type InvocationError struct {
	// ExitCode is the process exit status, or -1 when the process never ran.
	ExitCode int

	// Stderr holds the captured standard error output.
	Stderr string

	Err error
}

func (e *InvocationError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("engine: invocation failed: %v", e.Err)
	}
	if e.Stderr == "" {
		return fmt.Sprintf("engine: invocation exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("engine: invocation exited with status %d: %s", e.ExitCode, e.Stderr)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// DecodeError reports captured audio that could not be decoded. Like
// [InvocationError] it is scoped to one chunk.
type DecodeError struct {
	Seq uint64
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("engine: decode chunk %d: %v", e.Seq, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
