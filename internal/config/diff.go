package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// FilterChanged is true when the filler token list changed. It applies
	// from the next recording.
	FilterChanged   bool
	NewFilterTokens []string

	// RestartRequired lists the top-level sections that changed but cannot
	// be applied without a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !slices.Equal(old.Filter.Tokens, new.Filter.Tokens) {
		d.FilterChanged = true
		d.NewFilterTokens = slices.Clone(new.Filter.Tokens)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Engine != new.Engine {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if old.Recording != new.Recording {
		d.RestartRequired = append(d.RestartRequired, "recording")
	}
	if old.Output != new.Output {
		d.RestartRequired = append(d.RestartRequired, "output")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	if old.SettingsPath != new.SettingsPath {
		d.RestartRequired = append(d.RestartRequired, "settings_path")
	}
	return d
}

// SettingsDiff describes what changed between two [Settings] values.
type SettingsDiff struct {
	// ModelChanged requires a new engine; it applies from the next recording.
	ModelChanged bool

	// ChunkDurationChanged applies from the next recording.
	ChunkDurationChanged bool
}

// Changed reports whether anything differs.
func (d SettingsDiff) Changed() bool { return d.ModelChanged || d.ChunkDurationChanged }

// DiffSettings compares two normalised settings values.
func DiffSettings(old, new Settings) SettingsDiff {
	return SettingsDiff{
		ModelChanged:         old.ModelID != new.ModelID,
		ChunkDurationChanged: old.ChunkDurationMs != new.ChunkDurationMs,
	}
}
