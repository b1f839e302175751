package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxquill/internal/config"
	"github.com/MrWong99/voxquill/internal/session"
	"github.com/MrWong99/voxquill/pkg/engine"
)

// SessionInfo holds metadata about the dictation session.
type SessionInfo struct {
	// SessionID is the unique identifier of the session.
	SessionID string

	// State is the current recording state.
	State session.State

	// RecordingSince is when the current recording started. Zero while idle.
	RecordingSince time.Time

	// ModelID is the model of the engine the next recording uses.
	ModelID string

	// Variant is the loaded engine's variant, or "" before it initialised.
	Variant engine.Variant
}

// SessionManager starts and stops recordings of one [session.Session] and
// applies settings changes to it. A recording that ends without Stop, e.g.
// because the capture source ran out, is reported on Done.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	sess  *session.Session
	build EngineBuilder
	log   *slog.Logger

	mu       sync.Mutex
	active   *engine.Handle
	pending  *engine.Handle
	modelID  string
	since    time.Time
	userStop *atomic.Bool
	done     chan error
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Session *session.Session

	// Engine is the handle the session was created with.
	Engine *engine.Handle

	// ModelID is the model Engine was built for.
	ModelID string

	// Build creates a replacement engine when the model changes.
	Build EngineBuilder

	Logger *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		sess:    cfg.Session,
		build:   cfg.Build,
		log:     log,
		active:  cfg.Engine,
		modelID: cfg.ModelID,
		done:    make(chan error, 1),
	}
}

// Start begins a recording. Returns [session.ErrNotIdle] while one is
// running or draining.
func (sm *SessionManager) Start(ctx context.Context) error {
	stopped := new(atomic.Bool)
	sm.mu.Lock()
	sm.userStop = stopped
	sm.mu.Unlock()

	// Not under mu: Start may block on engine provisioning.
	if err := sm.sess.Start(ctx); err != nil {
		return err
	}

	sm.mu.Lock()
	if sm.pending != nil {
		sm.active, sm.pending = sm.pending, nil
	}
	if !stopped.Load() {
		sm.since = time.Now()
	}
	sm.mu.Unlock()

	go sm.watch(stopped)
	return nil
}

// watch waits for the recording to drain and reports it on done unless it
// was ended by Stop.
func (sm *SessionManager) watch(stopped *atomic.Bool) {
	err := sm.sess.Wait(context.Background())

	sm.mu.Lock()
	if sm.userStop == stopped {
		sm.since = time.Time{}
	}
	sm.mu.Unlock()

	if stopped.Load() {
		sm.log.Info("recording stopped")
		return
	}
	select {
	case sm.done <- err:
	default:
	}
}

// Stop ends the current recording. Buffered windows still reach the
// document. Stop while idle is a no-op.
func (sm *SessionManager) Stop() {
	sm.mu.Lock()
	if sm.userStop != nil && sm.sess.State() == session.StateRecording {
		sm.userStop.Store(true)
	}
	sm.mu.Unlock()
	sm.sess.Stop()
}

// Toggle stops a running recording or starts a new one when idle.
func (sm *SessionManager) Toggle(ctx context.Context) error {
	switch sm.sess.State() {
	case session.StateRecording:
		sm.Stop()
		return nil
	case session.StateIdle:
		return sm.Start(ctx)
	default:
		return session.ErrNotIdle
	}
}

// Done delivers the capture error (nil on a clean end of input) of a
// recording that ended on its own.
func (sm *SessionManager) Done() <-chan error { return sm.done }

// Ready reports whether the engine of the current recording is loaded.
func (sm *SessionManager) Ready() bool {
	sm.mu.Lock()
	h := sm.active
	sm.mu.Unlock()
	return h != nil && h.Ready()
}

// Info returns a snapshot of the session metadata.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	info := SessionInfo{
		SessionID:      sm.sess.ID(),
		State:          sm.sess.State(),
		RecordingSince: sm.since,
		ModelID:        sm.modelID,
	}
	if sm.active != nil {
		info.Variant = sm.active.Variant()
	}
	return info
}

// ApplySettings reacts to a settings change. A new model builds a fresh
// engine that replaces the current one at the next Start; a new chunk
// duration is read by the session at the next Start without further action.
func (sm *SessionManager) ApplySettings(old, new config.Settings) error {
	d := config.DiffSettings(old, new)
	if d.ChunkDurationChanged {
		sm.log.Info("chunk duration changed; applies to the next recording", "chunk_duration", new.ChunkDuration())
	}
	if !d.ModelChanged {
		return nil
	}

	h, err := sm.build(new.ModelID)
	if err != nil {
		return fmt.Errorf("app: build engine for model %q: %w", new.ModelID, err)
	}
	if err := sm.sess.SwapEngine(h); err != nil {
		_ = h.Close()
		return fmt.Errorf("app: swap engine: %w", err)
	}

	sm.mu.Lock()
	sm.pending = h
	sm.modelID = new.ModelID
	sm.mu.Unlock()
	sm.log.Info("model changed; applies to the next recording", "old_model", old.ModelID, "new_model", new.ModelID)
	return nil
}

// ApplyFilter replaces the filler tokens from the next recording. nil
// restores the built-in list.
func (sm *SessionManager) ApplyFilter(tokens []string) error {
	var f *session.Filter
	if tokens != nil {
		f = session.NewFilter(tokens)
	}
	if err := sm.sess.SetFilter(f); err != nil {
		return fmt.Errorf("app: set filter: %w", err)
	}
	sm.log.Info("filter tokens changed; applies to the next recording", "tokens", tokens)
	return nil
}
