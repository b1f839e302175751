package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxquill/internal/session"
	"github.com/MrWong99/voxquill/pkg/audio"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: component not registered")

// SinkFactory builds a document sink from the output section. Sinks that
// hold resources should also implement io.Closer.
type SinkFactory func(OutputConfig) (session.DocumentSink, error)

// MicrophoneFactory builds a capture source from the recording section.
type MicrophoneFactory func(RecordingConfig) (audio.Microphone, error)

// Registry maps component names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	sink map[string]SinkFactory
	mic  map[string]MicrophoneFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sink: make(map[string]SinkFactory),
		mic:  make(map[string]MicrophoneFactory),
	}
}

// RegisterSink registers a sink factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSink(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink[name] = factory
}

// RegisterMicrophone registers a capture source factory under name.
func (r *Registry) RegisterMicrophone(name string, factory MicrophoneFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mic[name] = factory
}

// CreateSink instantiates the sink registered under out.Sink.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSink(out OutputConfig) (session.DocumentSink, error) {
	r.mu.RLock()
	factory, ok := r.sink[out.Sink]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrNotRegistered, out.Sink)
	}
	return factory(out)
}

// CreateMicrophone instantiates the capture source registered under
// rec.Source.
func (r *Registry) CreateMicrophone(rec RecordingConfig) (audio.Microphone, error) {
	r.mu.RLock()
	factory, ok := r.mic[rec.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrNotRegistered, rec.Source)
	}
	return factory(rec)
}

// Sinks returns the registered sink names in sorted order.
func (r *Registry) Sinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sink))
	for n := range r.sink {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
