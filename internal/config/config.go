// ABOUTME: Configuration loading and parsing for agentd
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete agentd configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
	Agents    AgentsConfig    `yaml:"agents" toml:"agents"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DatabaseConfig holds event log configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" (pure Go) or "sqlite3" (cgo)
	Path   string `yaml:"path" toml:"path"`
}

// TransportConfig holds in-memory transport configuration
type TransportConfig struct {
	BufferSize  int           `yaml:"buffer_size" toml:"buffer_size"`
	SendTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	SendTimeoutRaw string `yaml:"send_timeout" toml:"send_timeout"`
}

// DedupeConfig holds duplicate-delivery suppression configuration
type DedupeConfig struct {
	Enabled bool          `yaml:"enabled" toml:"enabled"`
	TTL     time.Duration `yaml:"-" toml:"-"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// AgentsConfig holds agent state configuration
type AgentsConfig struct {
	// SnapshotEvery stores a state snapshot every N versions; 0 disables snapshots
	SnapshotEvery int `yaml:"snapshot_every" toml:"snapshot_every"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// Default returns a configuration usable without a file.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "agentd.db",
		},
		Transport: TransportConfig{
			BufferSize:     64,
			SendTimeout:    5 * time.Second,
			SendTimeoutRaw: "5s",
		},
		Dedupe: DedupeConfig{
			Enabled: true,
			TTL:     5 * time.Minute,
			TTLRaw:  "5m",
			MaxSize: 10000,
		},
		Agents: AgentsConfig{
			SnapshotEvery: 100,
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "agentd",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Values not present in the file keep their Default.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Transport.BufferSize < 0 {
		return fmt.Errorf("transport.buffer_size must not be negative")
	}
	if c.Transport.SendTimeout < 0 {
		return fmt.Errorf("transport.send_timeout must not be negative")
	}

	if c.Dedupe.Enabled {
		if c.Dedupe.TTL <= 0 {
			return fmt.Errorf("dedupe.ttl must be positive when dedupe is enabled")
		}
		if c.Dedupe.MaxSize <= 0 {
			return fmt.Errorf("dedupe.max_size must be positive when dedupe is enabled")
		}
	}

	if c.Agents.SnapshotEvery < 0 {
		return fmt.Errorf("agents.snapshot_every must not be negative")
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry.service_name is required when telemetry is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Transport.SendTimeoutRaw != "" {
		cfg.Transport.SendTimeout, err = time.ParseDuration(cfg.Transport.SendTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing send_timeout %q: %w", cfg.Transport.SendTimeoutRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}
