// ABOUTME: Configuration loading and parsing for handoff-console
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete handoff-console configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend" toml:"backend"`
	Channels ChannelsConfig `yaml:"channels" toml:"channels"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// BackendConfig holds REST and push endpoint settings
type BackendConfig struct {
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	WSURL      string `yaml:"ws_url" toml:"ws_url"` // defaults to base_url
	Token      string `yaml:"token" toml:"token"`
	AuthScheme string `yaml:"auth_scheme" toml:"auth_scheme"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// ChannelsConfig holds push channel behaviour
type ChannelsConfig struct {
	ReconnectDelay time.Duration `yaml:"-" toml:"-"`
	DedupeTTL      time.Duration `yaml:"-" toml:"-"`
	DedupeSize     int           `yaml:"dedupe_size" toml:"dedupe_size"`

	// Raw string values for unmarshaling
	ReconnectDelayRaw string `yaml:"reconnect_delay" toml:"reconnect_delay"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// SessionConfig identifies the operator and where their state is kept
type SessionConfig struct {
	StatePath string `yaml:"state_path" toml:"state_path"`
	AgentID   int64  `yaml:"agent_id" toml:"agent_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults
const (
	DefaultAuthScheme     = "Token"
	DefaultRequestTimeout = 15 * time.Second
	DefaultReconnectDelay = 2 * time.Second
	DefaultDedupeTTL      = 5 * time.Minute
	DefaultDedupeSize     = 1000
	DefaultMetricsAddr    = "127.0.0.1:9464"
	DefaultMetricsPath    = "/metrics"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config file location: HANDOFF_CONFIG, then
// $XDG_CONFIG_HOME/handoff/console.yaml, then ~/.config/handoff/console.yaml.
func DefaultPath() string {
	if p := os.Getenv("HANDOFF_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "handoff", "console.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "handoff", "console.yaml")
	}
	return filepath.Join(home, ".config", "handoff", "console.yaml")
}

// DefaultStatePath returns where the session database lives when
// session.state_path is not set.
func DefaultStatePath() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "handoff", "console.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".local", "state", "handoff", "console.db")
	}
	return filepath.Join(home, ".local", "state", "handoff", "console.db")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Backend.WSURL == "" {
		c.Backend.WSURL = c.Backend.BaseURL
	}
	if c.Backend.AuthScheme == "" {
		c.Backend.AuthScheme = DefaultAuthScheme
	}
	if c.Backend.RequestTimeoutRaw == "" {
		c.Backend.RequestTimeout = DefaultRequestTimeout
	}
	if c.Channels.ReconnectDelayRaw == "" {
		c.Channels.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Channels.DedupeTTLRaw == "" {
		c.Channels.DedupeTTL = DefaultDedupeTTL
	}
	if c.Channels.DedupeSize == 0 {
		c.Channels.DedupeSize = DefaultDedupeSize
	}
	if c.Session.StatePath == "" {
		c.Session.StatePath = DefaultStatePath()
	} else if rest, ok := strings.CutPrefix(c.Session.StatePath, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			c.Session.StatePath = filepath.Join(home, rest)
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https scheme")
	}

	ws, err := url.Parse(c.Backend.WSURL)
	if err != nil {
		return fmt.Errorf("backend.ws_url is not a valid URL: %w", err)
	}
	switch ws.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("backend.ws_url must use ws, wss, http or https scheme")
	}

	if c.Backend.Token == "" {
		return fmt.Errorf("backend.token is required")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend.request_timeout must be positive")
	}
	if c.Channels.ReconnectDelay <= 0 {
		return fmt.Errorf("channels.reconnect_delay must be positive")
	}
	if c.Channels.DedupeTTL <= 0 {
		return fmt.Errorf("channels.dedupe_ttl must be positive")
	}
	if c.Channels.DedupeSize < 0 {
		return fmt.Errorf("channels.dedupe_size must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Backend.RequestTimeoutRaw != "" {
		cfg.Backend.RequestTimeout, err = time.ParseDuration(cfg.Backend.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Backend.RequestTimeoutRaw, err)
		}
	}

	if cfg.Channels.ReconnectDelayRaw != "" {
		cfg.Channels.ReconnectDelay, err = time.ParseDuration(cfg.Channels.ReconnectDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_delay %q: %w", cfg.Channels.ReconnectDelayRaw, err)
		}
	}

	if cfg.Channels.DedupeTTLRaw != "" {
		cfg.Channels.DedupeTTL, err = time.ParseDuration(cfg.Channels.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Channels.DedupeTTLRaw, err)
		}
	}

	return nil
}
