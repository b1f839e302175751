// Package config provides the configuration schema, loader, persisted user
// settings and component registry for voxquill.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EngineVariant selects the inference engine implementation.
type EngineVariant string

const (
	// VariantAuto lets the platform decide: embedded where it is compiled in
	// and usable, the subprocess binary otherwise.
	VariantAuto EngineVariant = "auto"

	// VariantSubprocess forces the whisper.cpp command-line binary.
	VariantSubprocess EngineVariant = "subprocess"

	// VariantEmbedded forces the in-process bindings.
	VariantEmbedded EngineVariant = "embedded"
)

// IsValid reports whether v is a recognised engine variant.
func (v EngineVariant) IsValid() bool {
	switch v {
	case VariantAuto, VariantSubprocess, VariantEmbedded:
		return true
	}
	return false
}

// Config is the root configuration structure for voxquill.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Recording RecordingConfig `yaml:"recording"`
	Filter    FilterConfig    `yaml:"filter"`
	Output    OutputConfig    `yaml:"output"`
	Journal   JournalConfig   `yaml:"journal"`

	// SettingsPath is the YAML file holding the user settings (model and
	// chunk duration). Relative paths resolve against the working directory.
	SettingsPath string `yaml:"settings_path"`
}

// ServerConfig holds logging and the optional status server.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr is the TCP address of the status server serving /healthz,
	// /readyz and /metrics (e.g., ":9464"). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`
}

// EngineConfig selects and tunes the inference engine and its provisioning.
type EngineConfig struct {
	// Variant is auto, subprocess or embedded. Empty means auto.
	Variant EngineVariant `yaml:"variant"`

	// CacheDir is where binaries and models are stored. Empty uses the user
	// cache directory.
	CacheDir string `yaml:"cache_dir"`

	// ReleaseURL is the latest-release API endpoint of the whisper.cpp
	// project. Empty uses the public GitHub endpoint.
	ReleaseURL string `yaml:"release_url"`

	// ModelBaseURL is the base URL model files are fetched from.
	ModelBaseURL string `yaml:"model_base_url"`

	// AssetName overrides the platform-derived release archive name.
	AssetName string `yaml:"asset_name"`

	// ExtraArgs is appended to every command-line invocation, split with
	// shell quoting rules.
	ExtraArgs string `yaml:"extra_args"`

	// Language is the spoken language code. Empty lets the engine decide.
	Language string `yaml:"language"`

	// Threads is the inference thread count. Zero uses the engine default.
	Threads int `yaml:"threads"`

	// MaxRedirects caps the redirects followed per download. Zero uses 10.
	MaxRedirects int `yaml:"max_redirects"`

	// Breaker tunes the circuit breaker around engine calls.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the engine circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Zero uses 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open. Zero uses 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// RecordingConfig controls audio capture and the transcription queue.
type RecordingConfig struct {
	// Source selects the registered microphone implementation, e.g.
	// "portaudio" or "wav". Empty uses "portaudio".
	Source string `yaml:"source"`

	// WAVPath is the input file for the "wav" source.
	WAVPath string `yaml:"wav_path"`

	// Realtime paces the "wav" source at its sample rate.
	Realtime bool `yaml:"realtime"`

	// SampleRate is the preferred native capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the preferred capture channel count.
	Channels int `yaml:"channels"`

	// MaxInFlight bounds concurrent transcriptions.
	MaxInFlight int `yaml:"max_in_flight"`

	// MaxQueued bounds chunks waiting for the engine before new ones are
	// dropped.
	MaxQueued int `yaml:"max_queued"`
}

// FilterConfig configures which transcribed texts are discarded.
type FilterConfig struct {
	// Tokens are whole-chunk filler outputs to drop, compared
	// case-insensitively. nil uses the built-in list.
	Tokens []string `yaml:"tokens"`
}

// OutputConfig selects the document sink.
type OutputConfig struct {
	// Sink names a registered sink: file, stdout or nats. Empty means file.
	Sink string `yaml:"sink"`

	// Path is the document file for the file sink.
	Path string `yaml:"path"`

	// NATS configures the nats sink.
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig holds the connection settings of the NATS sink.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// JournalConfig enables the SQLite journal of chunk results.
type JournalConfig struct {
	// Path is the SQLite database file. Empty disables the journal.
	Path string `yaml:"path"`
}
