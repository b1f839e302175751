package config

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a YAML file for changes and calls a callback with the
// previous and new parsed value when its content changes. It uses polling
// (not fsnotify) to keep dependencies minimal.
type Watcher[T any] struct {
	path     string
	interval time.Duration
	parse    func([]byte) (T, error)
	onChange func(old, new T)
	log      *slog.Logger

	mu       sync.Mutex
	current  T
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

type watcherOptions struct {
	interval time.Duration
	log      *slog.Logger
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*watcherOptions)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(o *watcherOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Default: slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(o *watcherOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// NewWatcher creates a file watcher that parses the file with parse. It
// loads the initial value immediately and starts polling in a background
// goroutine. A file that fails to parse keeps the previous value.
func NewWatcher[T any](path string, parse func([]byte) (T, error), onChange func(old, new T), opts ...WatcherOption) (*Watcher[T], error) {
	o := watcherOptions{interval: 5 * time.Second, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	w := &Watcher[T]{
		path:     path,
		interval: o.interval,
		parse:    parse,
		onChange: onChange,
		log:      o.log,
		done:     make(chan struct{}),
	}

	v, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = v
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// WatchConfig watches the main configuration file.
func WatchConfig(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher[*Config], error) {
	return NewWatcher(path, parseConfig, onChange, opts...)
}

// WatchSettings watches a settings file written by [SettingsStore.Set] or
// edited by hand.
func WatchSettings(path string, onChange func(old, new Settings), opts ...WatcherOption) (*Watcher[Settings], error) {
	return NewWatcher(path, ParseSettings, onChange, opts...)
}

// Current returns the most recently loaded valid value.
func (w *Watcher[T]) Current() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher[T]) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll runs in a background goroutine, checking the file periodically.
func (w *Watcher[T]) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reads the file and, if it has changed and parses, calls onChange and
// updates the current value.
func (w *Watcher[T]) check() {
	// Quick mtime check first to avoid hashing unchanged files.
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	v, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		w.log.Warn("config watcher: failed to load file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// Touched, content identical.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = v
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	w.log.Info("config watcher: file reloaded", "path", w.path)

	// Outside the lock so the callback can call Current.
	if w.onChange != nil {
		w.onChange(old, v)
	}
}

// loadAndHash reads and parses the file, returning the value alongside the
// file's SHA-256 hash and modification time.
func (w *Watcher[T]) loadAndHash() (T, [sha256.Size]byte, time.Time, error) {
	var zero T
	var zeroHash [sha256.Size]byte

	f, err := os.Open(w.path)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}

	v, err := w.parse(data)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	return v, sha256.Sum256(data), info.ModTime(), nil
}
