package config

import "reflect"

// ConfigDiff describes what changed between two configs. The log level can
// be applied in place; everything else needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProviderChanged bool
	StorageChanged  bool
	DatabaseChanged bool
	AuthChanged     bool
}

// RestartRequired reports whether the diff contains changes that cannot be
// applied to a running server.
func (d ConfigDiff) RestartRequired() bool {
	return d.ProviderChanged || d.StorageChanged || d.DatabaseChanged || d.AuthChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Provider, new.Provider) ||
		!reflect.DeepEqual(old.FallbackProvider, new.FallbackProvider) {
		d.ProviderChanged = true
	}
	if !reflect.DeepEqual(old.Storage, new.Storage) {
		d.StorageChanged = true
	}
	if old.Database != new.Database {
		d.DatabaseChanged = true
	}
	if old.Auth != new.Auth {
		d.AuthChanged = true
	}
	return d
}
