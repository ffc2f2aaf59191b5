package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/xdot/internal/device"
	"github.com/srg/xdot/internal/protocol"
	"github.com/srg/xdot/internal/session"
	"github.com/srg/xdot/scanner"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	// Address of the sensor to connect to. Commands taking an address argument override it.
	Address  string `yaml:"address"`
	LogLevel string `yaml:"log_level" default:"warn"`

	DiscoverTimeout    time.Duration `yaml:"discover_timeout" default:"20s"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"10s"`
	OperationTimeout   time.Duration `yaml:"operation_timeout" default:"5s"`
	NotificationBuffer int           `yaml:"notification_buffer" default:"128"`
	// PayloadMode is the measurement mode used by start and stream, by name or code.
	PayloadMode string `yaml:"payload_mode" default:"free-acceleration"`

	ScanTimeout  time.Duration `yaml:"scan_timeout" default:"10s"`
	NamePrefixes []string      `yaml:"name_prefixes"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "xdot")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	defaults.SetDefaults(c)
	if len(c.NamePrefixes) == 0 {
		c.NamePrefixes = append([]string(nil), scanner.DefaultNamePrefixes...)
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve loads the config at path. An empty path means DefaultConfigPath, which
// may be absent; an explicitly given file must exist.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	path = DefaultConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Address != "" && device.NormalizeAddress(c.Address) == "" {
		return fmt.Errorf("address %q is not a device address", c.Address)
	}

	for name, d := range map[string]time.Duration{
		"discover_timeout":  c.DiscoverTimeout,
		"connect_timeout":   c.ConnectTimeout,
		"operation_timeout": c.OperationTimeout,
		"scan_timeout":      c.ScanTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0, got %s", name, d)
		}
	}

	if c.NotificationBuffer <= 0 {
		return fmt.Errorf("notification_buffer must be > 0, got %d", c.NotificationBuffer)
	}

	if _, err := c.Mode(); err != nil {
		return fmt.Errorf("payload_mode: %w", err)
	}
	return nil
}

// Level returns the parsed log level, InfoLevel when it does not parse.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Mode resolves PayloadMode against the payload mode registry.
func (c *Config) Mode() (protocol.PayloadMode, error) {
	return protocol.LookupModeByName(strings.TrimSpace(c.PayloadMode))
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions converts the connection settings into session options.
// The payload mode is left unset: it is learned from the device or from ArmMeasurement.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		DiscoverTimeout:    c.DiscoverTimeout,
		ConnectTimeout:     c.ConnectTimeout,
		OperationTimeout:   c.OperationTimeout,
		NotificationBuffer: c.NotificationBuffer,
	}
}

// ScanOptions converts the discovery settings into scanner options.
func (c *Config) ScanOptions() *scanner.ScanOptions {
	return &scanner.ScanOptions{
		Duration:     c.ScanTimeout,
		NamePrefixes: c.NamePrefixes,
	}
}
