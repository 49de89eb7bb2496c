package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.waapi/data/whatsapp.db",
		},
		Bridge: BridgeConfig{
			URL:                "ws://127.0.0.1:3001/bridge",
			DialTimeoutSeconds: 10,
		},
		Sessions: SessionsConfig{
			AuthDir:               "~/.waapi/auth",
			ReconnectDelaySeconds: 3,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.finish()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.finish()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("WAAPI_HOST", &c.Gateway.Host)
	envInt("WAAPI_PORT", &c.Gateway.Port)
	envStr("WAAPI_BRIDGE_URL", &c.Bridge.URL)
	envStr("WAAPI_AUTH_DIR", &c.Sessions.AuthDir)
	envStr("WAAPI_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("WAAPI_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("WAAPI_DB_MODE", &c.Database.Mode)
	envInt("WAAPI_RECONNECT_DELAY_SECONDS", &c.Sessions.ReconnectDelaySeconds)
}

// finish derives computed fields and expands paths.
func (c *Config) finish() {
	if c.Bridge.DialTimeoutSeconds <= 0 {
		c.Bridge.DialTimeoutSeconds = 10
	}
	c.Bridge.DialTimeout = time.Duration(c.Bridge.DialTimeoutSeconds) * time.Second
	c.Sessions.AuthDir = ExpandHome(c.Sessions.AuthDir)
	c.Database.SQLitePath = ExpandHome(c.Database.SQLitePath)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
