package app_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxquill/internal/app"
	"github.com/MrWong99/voxquill/internal/config"
	"github.com/MrWong99/voxquill/internal/observe"
	"github.com/MrWong99/voxquill/internal/session"
	"github.com/MrWong99/voxquill/pkg/audio"
	audiomock "github.com/MrWong99/voxquill/pkg/audio/mock"
	"github.com/MrWong99/voxquill/pkg/engine"
	enginemock "github.com/MrWong99/voxquill/pkg/engine/mock"
)

// memSink is an append-only in-memory document.
type memSink struct {
	mu  sync.Mutex
	doc []rune
}

func (s *memSink) InsertAt(_ context.Context, cursor int, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor = min(max(cursor, 0), len(s.doc))
	r := []rune(text)
	s.doc = append(s.doc[:cursor], append(r, s.doc[cursor:]...)...)
	return cursor + len(r), nil
}

func (s *memSink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.doc)
}

// fixture bundles the doubles behind an App under test.
type fixture struct {
	cfg     *config.Config
	sink    *memSink
	mic     *audiomock.Microphone
	reg     *config.Registry
	metrics *observe.Metrics

	mu      sync.Mutex
	engines map[string][]*enginemock.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		cfg: &config.Config{
			Recording:    config.RecordingConfig{Source: "mock", SampleRate: 16000, Channels: 1},
			Output:       config.OutputConfig{Sink: "mem"},
			Journal:      config.JournalConfig{Path: filepath.Join(dir, "journal.db")},
			SettingsPath: filepath.Join(dir, "settings.yaml"),
		},
		sink:    &memSink{},
		mic:     &audiomock.Microphone{},
		reg:     config.NewRegistry(),
		engines: make(map[string][]*enginemock.Engine),
	}
	f.reg.RegisterSink("mem", func(config.OutputConfig) (session.DocumentSink, error) { return f.sink, nil })
	f.reg.RegisterMicrophone("mock", func(config.RecordingConfig) (audio.Microphone, error) { return f.mic, nil })

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f.metrics = m
	return f
}

// build returns engines that transcribe every chunk as the model ID.
func (f *fixture) build(modelID string) (*engine.Handle, error) {
	e := &enginemock.Engine{TranscribeResult: engine.Result{Text: modelID}}
	f.mu.Lock()
	f.engines[modelID] = append(f.engines[modelID], e)
	f.mu.Unlock()
	return engine.NewHandle(func() (engine.Engine, error) { return e, nil }), nil
}

func (f *fixture) enginesFor(model string) []*enginemock.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*enginemock.Engine(nil), f.engines[model]...)
}

func (f *fixture) newApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithRegistry(f.reg),
		app.WithEngineBuilder(f.build),
		app.WithMetrics(f.metrics),
	}, opts...)
	a, err := app.New(context.Background(), f.cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}
