package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Config.WithDefaults].
const (
	DefaultSink         = "file"
	DefaultSource       = "portaudio"
	DefaultOutputPath   = "transcript.txt"
	DefaultSettingsPath = "settings.yaml"
	DefaultNATSURL      = "nats://127.0.0.1:4222"
	DefaultNATSSubject  = "voxquill.transcript"
)

// ValidComponentNames lists known registered names per component kind.
// Used by [Validate] to warn about unrecognised names.
var ValidComponentNames = map[string][]string{
	"sink":   {"file", "stdout", "nats"},
	"source": {"portaudio", "wav"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// An empty document yields the zero Config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseConfig(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// WithDefaults returns a copy of cfg with empty fields set to their defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Engine.Variant == "" {
		cfg.Engine.Variant = VariantAuto
	}
	if cfg.Recording.Source == "" {
		cfg.Recording.Source = DefaultSource
	}
	if cfg.Output.Sink == "" {
		cfg.Output.Sink = DefaultSink
	}
	if cfg.Output.Path == "" {
		cfg.Output.Path = DefaultOutputPath
	}
	if cfg.Output.NATS.URL == "" {
		cfg.Output.NATS.URL = DefaultNATSURL
	}
	if cfg.Output.NATS.Subject == "" {
		cfg.Output.NATS.Subject = DefaultNATSSubject
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = DefaultSettingsPath
	}
	return cfg
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Engine
	if cfg.Engine.Variant != "" && !cfg.Engine.Variant.IsValid() {
		errs = append(errs, fmt.Errorf("engine.variant %q is invalid; valid values: auto, subprocess, embedded", cfg.Engine.Variant))
	}
	if cfg.Engine.Threads < 0 {
		errs = append(errs, fmt.Errorf("engine.threads %d must not be negative", cfg.Engine.Threads))
	}
	if cfg.Engine.MaxRedirects < 0 {
		errs = append(errs, fmt.Errorf("engine.max_redirects %d must not be negative", cfg.Engine.MaxRedirects))
	}
	if cfg.Engine.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("engine.breaker.max_failures %d must not be negative", cfg.Engine.Breaker.MaxFailures))
	}
	if cfg.Engine.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.breaker.reset_timeout %s must not be negative", cfg.Engine.Breaker.ResetTimeout))
	}

	// Recording
	validateComponentName("source", cfg.Recording.Source)
	if cfg.Recording.Source == "wav" && cfg.Recording.WAVPath == "" {
		errs = append(errs, errors.New("recording.wav_path is required when recording.source is wav"))
	}
	if cfg.Recording.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("recording.sample_rate %d must not be negative", cfg.Recording.SampleRate))
	}
	if cfg.Recording.Channels < 0 || cfg.Recording.Channels > 2 {
		errs = append(errs, fmt.Errorf("recording.channels %d is out of range [0, 2]", cfg.Recording.Channels))
	}
	if cfg.Recording.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("recording.max_in_flight %d must not be negative", cfg.Recording.MaxInFlight))
	}
	if cfg.Recording.MaxQueued < 0 {
		errs = append(errs, fmt.Errorf("recording.max_queued %d must not be negative", cfg.Recording.MaxQueued))
	}

	// Output
	validateComponentName("sink", cfg.Output.Sink)
	if cfg.Output.Sink == "nats" && cfg.Output.NATS.Subject == "" {
		slog.Warn("output.nats.subject is empty; using default", "subject", DefaultNATSSubject)
	}

	return errors.Join(errs...)
}

// validateComponentName logs a warning if name is non-empty and not found in
// the [ValidComponentNames] list for the given kind.
func validateComponentName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidComponentNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown component name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
