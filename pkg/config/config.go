package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Supported values.
var (
	OutputFormats = []string{"table", "json"}
	Backends      = []string{"goble"}
)

// Config holds application configuration
type Config struct {
	LogLevel logrus.Level `json:"log_level" yaml:"log_level"`

	// ScanTimeout bounds resolve and scan commands.
	ScanTimeout    time.Duration `json:"scan_timeout" yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" default:"30s"`
	// RequestTimeout is the default deadline of every correlated request; 0 waits forever.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" default:"10s"`

	// SubscriberBuffer sizes channel subscriptions (scan results, notifications).
	SubscriberBuffer int  `json:"subscriber_buffer" yaml:"subscriber_buffer" default:"256"`
	AllowDuplicates  bool `json:"allow_duplicates" yaml:"allow_duplicates" default:"false"`

	Backend      string `json:"backend" yaml:"backend" default:"goble"`
	OutputFormat string `json:"output_format" yaml:"output_format" default:"table"` // table, json
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.LogLevel = logrus.InfoLevel
	return cfg
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if !oneOf(c.OutputFormat, OutputFormats) {
		return fmt.Errorf("unsupported output format %q (supported: %v)", c.OutputFormat, OutputFormats)
	}
	if !oneOf(c.Backend, Backends) {
		return fmt.Errorf("unsupported backend %q (supported: %v)", c.Backend, Backends)
	}
	if c.ScanTimeout < 0 || c.ConnectTimeout < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber_buffer must be positive, got %d", c.SubscriberBuffer)
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
