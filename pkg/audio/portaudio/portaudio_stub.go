//go:build !portaudio

package portaudio

import (
	"context"
	"errors"

	"github.com/MrWong99/voxquill/pkg/audio"
)

// Available reports whether the binary was built with PortAudio support.
const Available = false

// ErrUnavailable is returned by Acquire when the binary was built without the
// portaudio build tag.
var ErrUnavailable = errors.New("portaudio: capture support not compiled in (build with -tags portaudio)")

// Microphone is a placeholder that always fails to acquire.
type Microphone struct {
	FramesPerBuffer int
}

// New returns a Microphone placeholder.
func New() *Microphone { return &Microphone{} }

// Acquire always returns [ErrUnavailable].
func (m *Microphone) Acquire(context.Context, audio.Constraints) (audio.Stream, error) {
	return nil, ErrUnavailable
}

var _ audio.Microphone = (*Microphone)(nil)
