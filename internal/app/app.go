// Package app wires all voxquill subsystems into a running dictation daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run records until the context is cancelled or the capture
// source runs out, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithRegistry,
// WithEngineBuilder, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxquill/internal/config"
	"github.com/MrWong99/voxquill/internal/health"
	"github.com/MrWong99/voxquill/internal/journal"
	"github.com/MrWong99/voxquill/internal/observe"
	"github.com/MrWong99/voxquill/internal/resilience"
	"github.com/MrWong99/voxquill/internal/session"
	"github.com/MrWong99/voxquill/pkg/audio"
)

const defaultWatchInterval = 5 * time.Second

// App owns all subsystem lifetimes of one dictation session.
type App struct {
	cfg        config.Config
	configPath string
	level      *slog.LevelVar
	log        *slog.Logger

	registry       *config.Registry
	metrics        *observe.Metrics
	metricsHandler http.Handler
	settings       *config.SettingsStore
	build          EngineBuilder
	watchInterval  time.Duration

	// Subsystems — initialised in New, torn down in Shutdown.
	sink    session.DocumentSink
	mic     audio.Microphone
	journal *journal.Store
	breaker *resilience.CircuitBreaker
	sess    *session.Session
	manager *SessionManager
	health  *health.Handler
	status  *statusServer

	watchers []interface{ Stop() }
	toggle   chan struct{}

	// closers are called in order during Shutdown, after the session is
	// disposed.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects a component registry instead of the built-in one.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithEngineBuilder injects the engine builder instead of provisioning real
// engines.
func WithEngineBuilder(b EngineBuilder) Option {
	return func(a *App) { a.build = b }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics of the status server.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigPath enables hot reload of the configuration file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevel lets config reloads change the level of the running logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithWatchInterval sets the polling interval of the config and settings
// watchers. Default: 5s.
func WithWatchInterval(d time.Duration) Option {
	return func(a *App) { a.watchInterval = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Engines are not
// provisioned here; that happens on the first recording.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:           cfg.WithDefaults(),
		watchInterval: defaultWatchInterval,
		toggle:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltins(a.registry, a.log)
	}

	if err := a.init(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Settings ──────────────────────────────────────────────────────
	settings, err := config.OpenSettings(a.cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.settings = settings

	// ── 2. Engine ────────────────────────────────────────────────────────
	if a.build == nil {
		prov, err := NewProvisioner(a.cfg.Engine, a.metrics, a.log)
		if err != nil {
			return err
		}
		a.build = NewEngineBuilder(a.cfg.Engine, prov, a.metrics, progressLogger(a.log), a.log)
	}
	modelID := settings.Get().ModelID
	handle, err := a.build(modelID)
	if err != nil {
		return err
	}

	// ── 3. Sink + microphone ─────────────────────────────────────────────
	if a.sink, err = a.registry.CreateSink(a.cfg.Output); err != nil {
		_ = handle.Close()
		return fmt.Errorf("app: create sink: %w", err)
	}
	if c, ok := a.sink.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	if a.mic, err = a.registry.CreateMicrophone(a.cfg.Recording); err != nil {
		_ = handle.Close()
		return fmt.Errorf("app: create microphone: %w", err)
	}

	// ── 4. Journal ───────────────────────────────────────────────────────
	id := uuid.NewString()
	var sessJournal session.Journal
	if a.cfg.Journal.Path != "" {
		if a.journal, err = journal.Open(ctx, a.cfg.Journal.Path, a.log); err != nil {
			_ = handle.Close()
			return fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, a.journal.Close)
		sessJournal = a.journal.ForSession(id)
	}

	// ── 5. Breaker ───────────────────────────────────────────────────────
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "engine",
		MaxFailures:  a.cfg.Engine.Breaker.MaxFailures,
		ResetTimeout: a.cfg.Engine.Breaker.ResetTimeout,
		Logger:       a.log,
	})

	// ── 6. Session ───────────────────────────────────────────────────────
	var filter *session.Filter
	if a.cfg.Filter.Tokens != nil {
		filter = session.NewFilter(a.cfg.Filter.Tokens)
	}
	var cursor int
	if l, ok := a.sink.(interface{ Len() int }); ok {
		cursor = l.Len()
	}
	a.sess, err = session.New(session.Config{
		ID:         id,
		Engine:     handle,
		Microphone: a.mic,
		Sink:       a.sink,
		Settings:   settings,
		Constraints: audio.Constraints{
			SampleRate: a.cfg.Recording.SampleRate,
			Channels:   a.cfg.Recording.Channels,
		},
		Filter:      filter,
		Cursor:      cursor,
		MaxInFlight: a.cfg.Recording.MaxInFlight,
		MaxQueued:   a.cfg.Recording.MaxQueued,
		Breaker:     a.breaker,
		Journal:     sessJournal,
		Metrics:     a.metrics,
		Logger:      a.log,
	})
	if err != nil {
		_ = handle.Close()
		return fmt.Errorf("app: %w", err)
	}
	a.manager = NewSessionManager(SessionManagerConfig{
		Session: a.sess,
		Engine:  handle,
		ModelID: modelID,
		Build:   a.build,
		Logger:  a.log,
	})

	// ── 7. Health ────────────────────────────────────────────────────────
	checkers := []health.Checker{
		health.Ready("engine", a.manager.Ready),
		health.Breaker("engine_breaker", func() string { return a.breaker.State().String() }),
	}
	if h, ok := a.sink.(interface{ Healthy() bool }); ok {
		checkers = append(checkers, health.Ready("sink", h.Healthy))
	}
	a.health = health.New(health.WithCheckers(checkers...), health.WithSnapshot(a.snapshot))

	a.log.Info("app initialised",
		"session_id", id,
		"sink", a.cfg.Output.Sink,
		"source", a.cfg.Recording.Source,
		"model", modelID,
		"cursor", cursor,
	)
	return nil
}

// snapshot describes the session for the status endpoints.
func (a *App) snapshot() health.Snapshot {
	info := a.manager.Info()
	snap := health.Snapshot{
		SessionID: info.SessionID,
		State:     info.State.String(),
		ModelID:   info.ModelID,
		Variant:   string(info.Variant),
		Breaker:   a.breaker.State().String(),
	}
	if !info.RecordingSince.IsZero() {
		since := info.RecordingSince
		snap.RecordingSince = &since
	}
	return snap
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Manager returns the session manager.
func (a *App) Manager() *SessionManager { return a.manager }

// Settings returns the persisted user settings.
func (a *App) Settings() *config.SettingsStore { return a.settings }

// Health returns the health handler served by the status server.
func (a *App) Health() *health.Handler { return a.health }

// StatusAddr returns the bound status server address, or "" when it is
// disabled or not yet running.
func (a *App) StatusAddr() string {
	if a.status == nil {
		return ""
	}
	return a.status.Addr()
}

// Toggle asks Run to stop the current recording or start a new one.
func (a *App) Toggle() {
	select {
	case a.toggle <- struct{}{}:
	default:
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the status server and the watchers, begins recording and
// blocks until ctx is cancelled or a recording ends on its own. The latter
// returns the recording's capture error, nil when the source was exhausted.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Server.ListenAddr != "" {
		st, err := newStatusServer(a.cfg.Server.ListenAddr, a.health, a.metricsHandler, a.metrics, a.log)
		if err != nil {
			return err
		}
		a.status = st
		go st.serve()
	}
	if err := a.startWatchers(); err != nil {
		return err
	}

	if err := a.manager.Start(ctx); err != nil {
		return fmt.Errorf("app: start recording: %w", err)
	}
	a.log.Info("app running", "session_id", a.sess.ID())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.toggle:
			if err := a.manager.Toggle(ctx); err != nil {
				a.log.Warn("toggle recording failed", "err", err)
			}
		case err := <-a.manager.Done():
			a.log.Info("recording ended", "err", err)
			return err
		}
	}
}

func (a *App) startWatchers() error {
	opts := []config.WatcherOption{
		config.WithInterval(a.watchInterval),
		config.WithWatcherLogger(a.log),
	}

	// The settings watcher needs a file to hash.
	if _, err := os.Stat(a.settings.Path()); errors.Is(err, fs.ErrNotExist) {
		if err := a.settings.Set(a.settings.Get()); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	sw, err := config.WatchSettings(a.settings.Path(), a.onSettingsChange, opts...)
	if err != nil {
		return fmt.Errorf("app: watch settings: %w", err)
	}
	a.watchers = append(a.watchers, sw)

	if a.configPath != "" {
		cw, err := config.WatchConfig(a.configPath, a.onConfigChange, opts...)
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		a.watchers = append(a.watchers, cw)
	}
	return nil
}

func (a *App) onSettingsChange(old, new config.Settings) {
	a.settings.Apply(new)
	if err := a.manager.ApplySettings(old, new); err != nil {
		a.log.Error("apply settings failed", "err", err)
	}
}

func (a *App) onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.FilterChanged {
		if err := a.manager.ApplyFilter(d.NewFilterTokens); err != nil {
			a.log.Error("apply filter failed", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops recording, waits for buffered windows to reach the document
// and tears down all subsystems. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for _, w := range a.watchers {
			w.Stop()
		}
		if a.status != nil {
			if err := a.status.shutdown(ctx); err != nil {
				a.log.Warn("status server shutdown error", "err", err)
			}
		}
		if err := a.sess.Dispose(ctx); err != nil {
			errs = append(errs, err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// closeAll runs the closers collected by a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
