package config

import "time"

// Config is the root configuration for the gateway process.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Bridge    BridgeConfig    `json:"bridge"`
	Sessions  SessionsConfig  `json:"sessions"`
	AutoReply AutoReplyConfig `json:"auto_reply,omitempty"`
	Pipeline  PipelineConfig  `json:"pipeline,omitempty"`
}

// GatewayConfig configures the event-stream listener.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig selects the storage backend.
// PostgresDSN is never read from the config file (secret); env
// WAAPI_POSTGRES_DSN only.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "standalone" (default, sqlite) or "managed" (postgres)
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"`
}

// IsManagedMode reports whether the gateway runs against Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// BridgeConfig configures the protocol bridge the transport dials.
type BridgeConfig struct {
	URL                string        `json:"url"`
	DialTimeout        time.Duration `json:"-"` // from DialTimeoutSeconds
	DialTimeoutSeconds int           `json:"dial_timeout_seconds,omitempty"`
}

// SessionsConfig configures session lifecycle behavior.
type SessionsConfig struct {
	// AuthDir is the root directory for per-session auth material written
	// by the transport's own storage (one subdirectory per session id).
	AuthDir string `json:"auth_dir"`

	// ReconnectDelaySeconds is the fixed delay before a reconnect attempt
	// after a non-logout disconnect. Default 3.
	ReconnectDelaySeconds int `json:"reconnect_delay_seconds,omitempty"`

	// MaxReconnectAttempts caps automatic reconnects per disconnect.
	// 0 means unlimited, which matches the historical behavior.
	MaxReconnectAttempts int `json:"max_reconnect_attempts,omitempty"`
}

// AutoReplyConfig configures the rule engine.
type AutoReplyConfig struct {
	// CooldownRetentionDays controls pruning of stale cooldown records.
	// Default 30. Negative disables pruning.
	CooldownRetentionDays int `json:"cooldown_retention_days,omitempty"`
}

// PipelineConfig configures the inbound pipeline.
type PipelineConfig struct {
	// EchoTTLSeconds is how long self-originated message ids are remembered
	// for echo suppression. Default 30.
	EchoTTLSeconds int `json:"echo_ttl_seconds,omitempty"`

	// MediaTimeoutSeconds bounds a single media download. Default 15.
	MediaTimeoutSeconds int `json:"media_timeout_seconds,omitempty"`
}

// ReconnectDelay returns the configured reconnect delay as a duration.
func (c *SessionsConfig) ReconnectDelay() time.Duration {
	if c.ReconnectDelaySeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// EchoTTL returns the echo suppression TTL as a duration.
func (c *PipelineConfig) EchoTTL() time.Duration {
	if c.EchoTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.EchoTTLSeconds) * time.Second
}

// MediaTimeout returns the media download timeout as a duration.
func (c *PipelineConfig) MediaTimeout() time.Duration {
	if c.MediaTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.MediaTimeoutSeconds) * time.Second
}

// CooldownRetention returns the cooldown pruning horizon, or zero when
// a negative retention disabled pruning.
func (c *AutoReplyConfig) CooldownRetention() time.Duration {
	days := c.CooldownRetentionDays
	if days < 0 {
		return 0
	}
	if days == 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}
