package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxquill/pkg/provision"
)

// Chunk duration bounds in milliseconds.
const (
	DefaultChunkDurationMs uint = 10000
	MinChunkDurationMs     uint = 5000
	MaxChunkDurationMs     uint = 30000
)

// Settings are the user-facing preferences persisted between runs.
type Settings struct {
	// ModelID names the whisper model, e.g. "base.en".
	ModelID string `yaml:"model_id"`

	// ChunkDurationMs is the capture window length.
	ChunkDurationMs uint `yaml:"chunk_duration_ms"`
}

// DefaultSettings returns the settings used when none are stored.
func DefaultSettings() Settings {
	return Settings{ModelID: provision.DefaultModelID, ChunkDurationMs: DefaultChunkDurationMs}
}

// Normalize fills empty fields with defaults and clamps the chunk duration
// to [MinChunkDurationMs, MaxChunkDurationMs].
func (s Settings) Normalize() Settings {
	if s.ModelID == "" {
		s.ModelID = provision.DefaultModelID
	}
	switch {
	case s.ChunkDurationMs == 0:
		s.ChunkDurationMs = DefaultChunkDurationMs
	case s.ChunkDurationMs < MinChunkDurationMs:
		s.ChunkDurationMs = MinChunkDurationMs
	case s.ChunkDurationMs > MaxChunkDurationMs:
		s.ChunkDurationMs = MaxChunkDurationMs
	}
	return s
}

// ChunkDuration returns the window length as a duration.
func (s Settings) ChunkDuration() time.Duration {
	return time.Duration(s.ChunkDurationMs) * time.Millisecond
}

// ParseSettings decodes and normalises a settings document. An empty
// document yields [DefaultSettings].
func ParseSettings(data []byte) (Settings, error) {
	var s Settings
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("config: decode settings: %w", err)
	}
	return s.Normalize(), nil
}

// SettingsStore holds the current [Settings] and persists them to a YAML
// file. It is safe for concurrent use.
type SettingsStore struct {
	path string

	mu  sync.RWMutex
	cur Settings
}

// OpenSettings loads the settings stored at path. A missing file yields the
// defaults; it is created on the first Set.
func OpenSettings(path string) (*SettingsStore, error) {
	s := &SettingsStore{path: path, cur: DefaultSettings()}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read settings %q: %w", path, err)
	}
	if s.cur, err = ParseSettings(data); err != nil {
		return nil, fmt.Errorf("config: settings %q: %w", path, err)
	}
	return s, nil
}

// Path returns the settings file path.
func (s *SettingsStore) Path() string { return s.path }

// Get returns the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// ChunkDuration returns the current window length.
func (s *SettingsStore) ChunkDuration() time.Duration {
	return s.Get().ChunkDuration()
}

// Set normalises v, writes it to disk and makes it current. The file is
// replaced atomically.
func (s *SettingsStore) Set(v Settings) error {
	v = v.Normalize()
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("config: encode settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("config: write settings %q: %w", s.path, err)
	}
	s.cur = v
	return nil
}

// Apply makes v current without writing it, e.g. after the file was changed
// externally.
func (s *SettingsStore) Apply(v Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = v.Normalize()
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
