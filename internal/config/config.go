// Package config handles netcore configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/netcore/config.yaml, /config/config.yaml,
// /etc/netcore/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "netcore", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/netcore/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all connection-establishment configuration (spec §3).
type Config struct {
	ConnectParams                  OutcomeParamsConfig `yaml:"connect_params"`
	ConnectTimeout                 time.Duration        `yaml:"connect_timeout"`
	NetworkInterfacePollInterval   time.Duration        `yaml:"network_interface_poll_interval"`
	PostRouteChangeConnectTimeout  time.Duration        `yaml:"post_route_change_connect_timeout"`
	WS                             WebSocketConfig       `yaml:"websocket"`
	Preconnect                     PreconnectConfig      `yaml:"preconnect"`
	LogLevel                       string                `yaml:"log_level"`
}

// OutcomeParamsConfig mirrors ConnectionOutcomeParams (spec §3).
type OutcomeParamsConfig struct {
	AgeCutoff           time.Duration `yaml:"age_cutoff"`
	CooldownGrowthFactor float64      `yaml:"cooldown_growth_factor"`
	CountGrowthFactor    float64      `yaml:"count_growth_factor"`
	MaxCount             uint32       `yaml:"max_count"`
	MaxDelay             time.Duration `yaml:"max_delay"`
}

// WebSocketConfig carries the idle/ping/disconnect timers for chat framing.
type WebSocketConfig struct {
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	PingIdleTimeout   time.Duration `yaml:"ping_idle_timeout"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
}

// PreconnectConfig controls PreconnectingConnector's cache lifetime.
type PreconnectConfig struct {
	Lifetime time.Duration `yaml:"lifetime"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${REGISTRATION_API_KEY}). This is a
	// convenience for container deployments; credentials should not be
	// committed directly to a config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with the suggested values from
// spec §3. Called automatically by Load. After this, callers can read any
// field without checking for zero values.
func (c *Config) applyDefaults() {
	if c.ConnectParams.AgeCutoff == 0 {
		c.ConnectParams.AgeCutoff = 5 * time.Minute
	}
	if c.ConnectParams.CooldownGrowthFactor == 0 {
		c.ConnectParams.CooldownGrowthFactor = 1.5
	}
	if c.ConnectParams.CountGrowthFactor == 0 {
		c.ConnectParams.CountGrowthFactor = 10
	}
	if c.ConnectParams.MaxCount == 0 {
		c.ConnectParams.MaxCount = 5
	}
	if c.ConnectParams.MaxDelay == 0 {
		c.ConnectParams.MaxDelay = 30 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.NetworkInterfacePollInterval == 0 {
		c.NetworkInterfacePollInterval = 10 * time.Second
	}
	if c.PostRouteChangeConnectTimeout == 0 {
		c.PostRouteChangeConnectTimeout = 5 * time.Second
	}
	if c.WS.IdleTimeout == 0 {
		c.WS.IdleTimeout = 10 * time.Second
	}
	if c.WS.PingIdleTimeout == 0 {
		c.WS.PingIdleTimeout = 10 * time.Second
	}
	if c.WS.DisconnectTimeout == 0 {
		c.WS.DisconnectTimeout = 30 * time.Second
	}
	if c.Preconnect.Lifetime == 0 {
		c.Preconnect.Lifetime = 1500 * time.Millisecond
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.ConnectParams.MaxCount == 0 {
		return fmt.Errorf("connect_params.max_count must be > 0")
	}
	if c.ConnectParams.CooldownGrowthFactor < 1 {
		return fmt.Errorf("connect_params.cooldown_growth_factor must be >= 1")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be > 0")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns the "SUGGESTED_CONNECT_CONFIG" configuration from the
// original source (spec §3), with all defaults already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
