// Package config handles configuration loading and validation for nudge.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Delivery backend names.
const (
	BackendLog     = "log"
	BackendCommand = "command"
)

// Config holds the application configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Server    ServerConfig    `yaml:"server"`
	Audit     AuditConfig     `yaml:"audit"`
	DataDir   string          `yaml:"-"` // set by caller, not from config file
}

// DatabaseConfig tunes the SQLite connection pool.
type DatabaseConfig struct {
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
	BusyTimeout  int `yaml:"busy_timeout"` // milliseconds
}

// SchedulerConfig controls notification delivery timing and retries.
type SchedulerConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryBase       time.Duration `yaml:"retry_base"`
	RetryMax        time.Duration `yaml:"retry_max"`
	MaxSleep        time.Duration `yaml:"max_sleep"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// DeliveryConfig selects how due notifications reach the user.
type DeliveryConfig struct {
	Backend string `yaml:"backend"` // "log" or "command"
	// Command is the argv run by the command backend. Each element is a
	// template rendered with .ID, .Title and .Body.
	Command []string `yaml:"command"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AuditConfig controls retention of notification history.
type AuditConfig struct {
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			BusyTimeout:  5000,
		},
		Scheduler: SchedulerConfig{
			MaxAttempts:     5,
			RetryBase:       5 * time.Second,
			RetryMax:        5 * time.Minute,
			MaxSleep:        30 * time.Second,
			DeliveryTimeout: 10 * time.Second,
		},
		Delivery: DeliveryConfig{
			Backend: BackendLog,
			Command: []string{"notify-send", "{{ .Title }}", "{{ .Body }}"},
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7737",
		},
		Audit: AuditConfig{
			Retention:     30 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = defaults.Database.BusyTimeout
	}

	if c.Scheduler.MaxAttempts == 0 {
		c.Scheduler.MaxAttempts = defaults.Scheduler.MaxAttempts
	}
	if c.Scheduler.RetryBase == 0 {
		c.Scheduler.RetryBase = defaults.Scheduler.RetryBase
	}
	if c.Scheduler.RetryMax == 0 {
		c.Scheduler.RetryMax = defaults.Scheduler.RetryMax
	}
	if c.Scheduler.MaxSleep == 0 {
		c.Scheduler.MaxSleep = defaults.Scheduler.MaxSleep
	}
	if c.Scheduler.DeliveryTimeout == 0 {
		c.Scheduler.DeliveryTimeout = defaults.Scheduler.DeliveryTimeout
	}

	if c.Delivery.Backend == "" {
		c.Delivery.Backend = defaults.Delivery.Backend
	}
	if len(c.Delivery.Command) == 0 {
		c.Delivery.Command = defaults.Delivery.Command
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}

	if c.Audit.Retention == 0 {
		c.Audit.Retention = defaults.Audit.Retention
	}
	if c.Audit.SweepInterval == 0 {
		c.Audit.SweepInterval = defaults.Audit.SweepInterval
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout cannot be negative")
	}

	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be at least 1")
	}
	if c.Scheduler.RetryBase <= 0 {
		return fmt.Errorf("scheduler.retry_base must be positive")
	}
	if c.Scheduler.RetryMax < c.Scheduler.RetryBase {
		return fmt.Errorf("scheduler.retry_max (%s) must not be less than scheduler.retry_base (%s)",
			c.Scheduler.RetryMax, c.Scheduler.RetryBase)
	}
	if c.Scheduler.MaxSleep <= 0 {
		return fmt.Errorf("scheduler.max_sleep must be positive")
	}
	if c.Scheduler.DeliveryTimeout <= 0 {
		return fmt.Errorf("scheduler.delivery_timeout must be positive")
	}

	switch c.Delivery.Backend {
	case BackendLog:
	case BackendCommand:
		if len(c.Delivery.Command) == 0 || c.Delivery.Command[0] == "" {
			return fmt.Errorf("delivery.command is required for the %q backend", BackendCommand)
		}
	default:
		return fmt.Errorf("delivery.backend %q is not one of %q, %q", c.Delivery.Backend, BackendLog, BackendCommand)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	if err := CheckListenAddr(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr: %w", err)
	}

	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit.retention cannot be negative")
	}
	if c.Audit.SweepInterval <= 0 {
		return fmt.Errorf("audit.sweep_interval must be positive")
	}

	return nil
}

// CheckListenAddr rejects listen addresses that are not on a loopback
// interface. The API is unauthenticated.
func CheckListenAddr(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%q is not a loopback address", addr)
	}
	return nil
}

// LogFile returns the default log file path.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "nudge.log")
}
