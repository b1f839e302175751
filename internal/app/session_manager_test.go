package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxquill/internal/app"
	"github.com/MrWong99/voxquill/internal/config"
	"github.com/MrWong99/voxquill/internal/session"
	audiomock "github.com/MrWong99/voxquill/pkg/audio/mock"
	"github.com/MrWong99/voxquill/pkg/engine"
	enginemock "github.com/MrWong99/voxquill/pkg/engine/mock"
)

type fixedChunk time.Duration

func (c fixedChunk) ChunkDuration() time.Duration { return time.Duration(c) }

func newManager(t *testing.T, f *fixture) (*app.SessionManager, *session.Session) {
	t.Helper()
	h, _ := f.build("base.en")
	s, err := session.New(session.Config{
		Engine:     h,
		Microphone: f.mic,
		Sink:       f.sink,
		Settings:   fixedChunk(50 * time.Millisecond),
		Metrics:    f.metrics,
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Dispose(context.Background()) })
	return app.NewSessionManager(app.SessionManagerConfig{
		Session: s,
		Engine:  h,
		ModelID: "base.en",
		Build:   f.build,
	}), s
}

func recordOnce(t *testing.T, sm *app.SessionManager, f *fixture) {
	t.Helper()
	f.mic.Stream = &audiomock.Stream{Samples: make([]float32, 800)}
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case err := <-sm.Done():
		if err != nil {
			t.Fatalf("recording error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("recording did not end")
	}
}

func TestSessionManager_DoneOnExhaustedSource(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sm, _ := newManager(t, f)

	if sm.Ready() {
		t.Error("Ready before the first recording")
	}
	recordOnce(t, sm, f)
	if !sm.Ready() {
		t.Error("not Ready after a recording")
	}
	if got := f.sink.Text(); got != "base.en " {
		t.Errorf("document = %q, want %q", got, "base.en ")
	}
	if !sm.Info().RecordingSince.IsZero() {
		t.Error("RecordingSince set while idle")
	}
}

func TestSessionManager_StopIsNotReportedAsDone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mic.Stream = &audiomock.Stream{Loop: true, Delay: time.Millisecond}
	sm, s := newManager(t, f)

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sm.Info().RecordingSince.IsZero() {
		t.Error("RecordingSince not set while recording")
	}
	if err := sm.Start(context.Background()); !errors.Is(err, session.ErrNotIdle) {
		t.Errorf("second Start = %v, want ErrNotIdle", err)
	}
	sm.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	select {
	case err := <-sm.Done():
		t.Errorf("Done delivered %v after Stop", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionManager_ToggleDuringInitializeStops(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	stream := &audiomock.Stream{Loop: true, Delay: time.Millisecond}
	f.mic.Stream = stream

	initStarted := make(chan struct{})
	release := make(chan struct{})
	e := &enginemock.Engine{
		InitializeFunc: func(ctx context.Context, _ engine.ProgressReporter) error {
			close(initStarted)
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	h := engine.NewHandle(func() (engine.Engine, error) { return e, nil })
	s, err := session.New(session.Config{
		Engine:     h,
		Microphone: f.mic,
		Sink:       f.sink,
		Settings:   fixedChunk(50 * time.Millisecond),
		Metrics:    f.metrics,
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Dispose(context.Background()) })
	sm := app.NewSessionManager(app.SessionManagerConfig{Session: s, Engine: h, ModelID: "base.en", Build: f.build})

	started := make(chan error, 1)
	go func() { started <- sm.Start(context.Background()) }()
	<-initStarted
	if err := sm.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	close(release)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !stream.Closed() {
		t.Error("microphone stream still open")
	}
	if got := f.sink.Text(); got != "" {
		t.Errorf("document = %q, want empty", got)
	}
	if !sm.Info().RecordingSince.IsZero() {
		t.Error("RecordingSince set for a recording that never captured")
	}
	select {
	case err := <-sm.Done():
		t.Errorf("Done delivered %v after Toggle", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionManager_Toggle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mic.Stream = &audiomock.Stream{Loop: true, Delay: time.Millisecond}
	sm, s := newManager(t, f)

	if err := sm.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle start: %v", err)
	}
	if s.State() != session.StateRecording {
		t.Fatalf("State = %s, want recording", s.State())
	}
	if err := sm.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle stop: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Wait(ctx)
	if s.State() != session.StateIdle {
		t.Errorf("State = %s, want idle", s.State())
	}
}

func TestSessionManager_ApplySettingsSwapsModelOnNextStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sm, _ := newManager(t, f)

	recordOnce(t, sm, f)

	old := config.Settings{ModelID: "base.en", ChunkDurationMs: 10000}
	next := config.Settings{ModelID: "small.en", ChunkDurationMs: 10000}
	if err := sm.ApplySettings(old, next); err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if sm.Info().ModelID != "small.en" {
		t.Errorf("ModelID = %q, want small.en", sm.Info().ModelID)
	}

	recordOnce(t, sm, f)

	if got, want := f.sink.Text(), "base.en small.en "; got != want {
		t.Errorf("document = %q, want %q", got, want)
	}
	if e := f.enginesFor("base.en"); len(e) != 1 || e[0].CloseCalls() != 1 {
		t.Errorf("old engine not closed after swap")
	}
}

func TestSessionManager_ApplySettingsWithoutModelChange(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sm, _ := newManager(t, f)

	old := config.Settings{ModelID: "base.en", ChunkDurationMs: 10000}
	next := config.Settings{ModelID: "base.en", ChunkDurationMs: 20000}
	if err := sm.ApplySettings(old, next); err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if n := len(f.enginesFor("base.en")); n != 1 {
		t.Errorf("engines built = %d, want 1", n)
	}
}

func TestSessionManager_ApplySettingsBuildFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, s := newManager(t, f)
	boom := errors.New("no engine")
	sm := app.NewSessionManager(app.SessionManagerConfig{
		Session: s,
		Build:   func(string) (*engine.Handle, error) { return nil, boom },
	})

	err := sm.ApplySettings(config.Settings{ModelID: "a"}, config.Settings{ModelID: "b"})
	if !errors.Is(err, boom) {
		t.Errorf("ApplySettings = %v, want %v", err, boom)
	}
}

func TestSessionManager_ApplyFilter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sm, _ := newManager(t, f)

	if err := sm.ApplyFilter([]string{"base.en"}); err != nil {
		t.Fatalf("ApplyFilter: %v", err)
	}
	recordOnce(t, sm, f)
	if got := f.sink.Text(); got != "" {
		t.Errorf("document = %q, want filtered output", got)
	}
}
