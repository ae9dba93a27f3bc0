package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

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

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result, so partial files only override what they mention.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays recognised environment variables onto cfg and revalidates.
// Environment values win over file values. The variable set matches the
// deployment platform contract:
//
//	ALLOWED_ORIGINS       comma-separated CORS allow list ("*" permitted)
//	MAX_PEERS_PER_ROOM    room capacity
//	HEARTBEAT_TIMEOUT_MS  peer liveness window
//	RATE_LIMIT_MAX        frames admitted per window
//	RATE_LIMIT_WINDOW_MS  rate-limit window length
//	QUEUE_TTL_MS          pending message lifetime
//	QUEUE_MAX_PER_PEER    pending messages per destination
//	MAX_FRAME_BYTES       inbound frame ceiling
func ApplyEnv(cfg *Config) error {
	var errs []error

	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = SplitOrigins(v)
	}
	envInt("MAX_PEERS_PER_ROOM", &cfg.Broker.MaxPeersPerRoom, &errs)
	envInt64("HEARTBEAT_TIMEOUT_MS", &cfg.Broker.HeartbeatTimeoutMS, &errs)
	envInt("RATE_LIMIT_MAX", &cfg.Broker.RateLimitMax, &errs)
	envInt64("RATE_LIMIT_WINDOW_MS", &cfg.Broker.RateLimitWindowMS, &errs)
	envInt64("QUEUE_TTL_MS", &cfg.Broker.QueueTTLMS, &errs)
	envInt("QUEUE_MAX_PER_PEER", &cfg.Broker.QueueMaxPerPeer, &errs)
	envInt64("MAX_FRAME_BYTES", &cfg.Broker.MaxFrameBytes, &errs)

	if err := errors.Join(errs...); err != nil {
		return err
	}
	return Validate(cfg)
}

// SplitOrigins parses a comma-separated origin list, trimming whitespace and
// dropping empty entries.
func SplitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		errs = append(errs, errors.New(`server.allowed_origins must contain at least one origin (use "*" to allow any)`))
	}
	for i, origin := range cfg.Server.AllowedOrigins {
		if origin == "" {
			errs = append(errs, fmt.Errorf("server.allowed_origins[%d] is empty", i))
		}
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}
	if ul := cfg.Server.UpgradeLimit; ul != nil {
		if ul.PerSecond <= 0 {
			errs = append(errs, fmt.Errorf("server.upgrade_limit.per_second %.2f must be positive", ul.PerSecond))
		}
		if ul.Burst < 1 {
			errs = append(errs, fmt.Errorf("server.upgrade_limit.burst %d must be at least 1", ul.Burst))
		}
	}

	// Broker limits
	b := cfg.Broker
	if b.MaxPeersPerRoom < 1 {
		errs = append(errs, fmt.Errorf("broker.max_peers_per_room %d must be at least 1", b.MaxPeersPerRoom))
	}
	if b.HeartbeatTimeoutMS < 1 {
		errs = append(errs, fmt.Errorf("broker.heartbeat_timeout_ms %d must be positive", b.HeartbeatTimeoutMS))
	}
	if b.RateLimitMax < 1 {
		errs = append(errs, fmt.Errorf("broker.rate_limit_max %d must be at least 1", b.RateLimitMax))
	}
	if b.RateLimitWindowMS < 1 {
		errs = append(errs, fmt.Errorf("broker.rate_limit_window_ms %d must be positive", b.RateLimitWindowMS))
	}
	if b.QueueTTLMS < 1 {
		errs = append(errs, fmt.Errorf("broker.queue_ttl_ms %d must be positive", b.QueueTTLMS))
	}
	if b.QueueMaxPerPeer < 1 {
		errs = append(errs, fmt.Errorf("broker.queue_max_per_peer %d must be at least 1", b.QueueMaxPerPeer))
	}
	if b.MaxFrameBytes < 1 {
		errs = append(errs, fmt.Errorf("broker.max_frame_bytes %d must be positive", b.MaxFrameBytes))
	}

	return errors.Join(errs...)
}

// envInt overwrites *dst with the integer value of the named environment
// variable when it is set and non-empty.
func envInt(name string, dst *int, errs *[]error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s %q is not an integer", name, v))
		return
	}
	*dst = n
}

// envInt64 is [envInt] for int64 fields.
func envInt64(name string, dst *int64, errs *[]error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s %q is not an integer", name, v))
		return
	}
	*dst = n
}
