// Package config provides the configuration schema, loader, and file watcher
// for the rtcbroker signaling server.
package config

import "time"

// LogLevel controls log verbosity for the rtcbroker server.
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

// Config is the root configuration structure for rtcbroker.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// [ApplyEnv] then overlays the environment variables recognised by the
// deployment platform, so a file is never required.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Broker BrokerConfig `yaml:"broker"`
}

// ServerConfig holds network, CORS, and logging settings for the HTTP front.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":9000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins is the CORS allow list for browser clients. A single
	// "*" entry allows any origin; otherwise the first entry is echoed in
	// Access-Control-Allow-Origin and the full list gates WebSocket
	// upgrades.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// UpgradeLimit bounds how fast a single client IP may open new
	// signaling connections. When nil, upgrades are not limited per IP.
	UpgradeLimit *UpgradeLimitConfig `yaml:"upgrade_limit"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// UpgradeLimitConfig is a token-bucket bound on connection attempts per
// client IP, applied before the upgrade reaches a room.
type UpgradeLimitConfig struct {
	// PerSecond is the sustained rate of upgrade attempts allowed per IP.
	PerSecond float64 `yaml:"per_second"`

	// Burst is the number of attempts allowed to arrive at once.
	Burst int `yaml:"burst"`
}

// BrokerConfig holds the per-room signaling limits. All durations are
// expressed in milliseconds to match the deployment platform's environment
// variable contract; use the accessor methods for [time.Duration] values.
type BrokerConfig struct {
	// MaxPeersPerRoom caps how many peers a single room admits.
	MaxPeersPerRoom int `yaml:"max_peers_per_room"`

	// HeartbeatTimeoutMS is how long a peer may go without a heartbeat
	// before it is expired from its room.
	HeartbeatTimeoutMS int64 `yaml:"heartbeat_timeout_ms"`

	// RateLimitMax is the number of frames a peer may send per window.
	RateLimitMax int `yaml:"rate_limit_max"`

	// RateLimitWindowMS is the rate-limit window length.
	RateLimitWindowMS int64 `yaml:"rate_limit_window_ms"`

	// QueueTTLMS is how long a signaling message addressed to a peer that
	// has not yet registered may wait for delivery.
	QueueTTLMS int64 `yaml:"queue_ttl_ms"`

	// QueueMaxPerPeer caps how many messages may wait for one destination.
	QueueMaxPerPeer int `yaml:"queue_max_per_peer"`

	// MaxFrameBytes is the inbound frame size ceiling. Frames at or above
	// this length are rejected before parsing.
	MaxFrameBytes int64 `yaml:"max_frame_bytes"`
}

// HeartbeatTimeout returns HeartbeatTimeoutMS as a [time.Duration].
func (b BrokerConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(b.HeartbeatTimeoutMS) * time.Millisecond
}

// RateLimitWindow returns RateLimitWindowMS as a [time.Duration].
func (b BrokerConfig) RateLimitWindow() time.Duration {
	return time.Duration(b.RateLimitWindowMS) * time.Millisecond
}

// QueueTTL returns QueueTTLMS as a [time.Duration].
func (b BrokerConfig) QueueTTL() time.Duration {
	return time.Duration(b.QueueTTLMS) * time.Millisecond
}

// Default returns a Config populated with the standard signaling limits.
// File and environment values overlay these defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":9000",
			LogLevel:       LogInfo,
			AllowedOrigins: []string{"*"},
		},
		Broker: BrokerConfig{
			MaxPeersPerRoom:    4,
			HeartbeatTimeoutMS: 5000,
			RateLimitMax:       100,
			RateLimitWindowMS:  1000,
			QueueTTLMS:         5000,
			QueueMaxPerPeer:    50,
			MaxFrameBytes:      1 << 20,
		},
	}
}
