package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: broker limits
// apply to rooms created after the reload, origins and log level apply
// immediately.
type ConfigDiff struct {
	OriginsChanged  bool
	NewOrigins      []string
	LimitsChanged   bool // any broker limit differs
	NewLimits       BrokerConfig
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// Changed reports whether the diff carries any reloadable change at all.
func (d ConfigDiff) Changed() bool {
	return d.OriginsChanged || d.LimitsChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; listen address
// and TLS changes require one.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.OriginsChanged = true
		d.NewOrigins = new.Server.AllowedOrigins
	}

	if old.Broker != new.Broker {
		d.LimitsChanged = true
		d.NewLimits = new.Broker
	}

	return d
}
