// Package config loads and validates the server configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (IOCPNET_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config captures every configurable aspect of the server: logging, the
// engine itself, admission limits, the payload handler and the metrics
// endpoint.
//
// Handler configuration follows a type-selection pattern: Handler.Type
// names the implementation and only the matching type-specific section is
// consulted.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains the engine settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Limits bounds connection admission and per-session queues
	Limits LimitsConfig `mapstructure:"limits" yaml:"limits"`

	// Handler selects the payload handler and its options
	Handler HandlerConfig `mapstructure:"handler" yaml:"handler"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// ServerConfig contains the engine settings.
type ServerConfig struct {
	// Port is the TCP listening port
	Port uint16 `mapstructure:"port" yaml:"port" validate:"required"`

	// Workers is the completion worker count; 0 means one per CPU
	Workers int `mapstructure:"workers" yaml:"workers" validate:"gte=0"`

	// BufferSize is the per-session receive buffer capacity in bytes
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" validate:"gte=0"`

	// ShutdownTimeout is loaded, validated and rendered, but the server does
	// not apply it: shutdown runs without a deadline
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// LimitsConfig bounds connection admission and per-session send queues.
type LimitsConfig struct {
	// AcceptRate is the sustained admissions per second; 0 disables limiting
	AcceptRate uint `mapstructure:"accept_rate" yaml:"accept_rate"`

	// AcceptBurst is the admission burst headroom
	AcceptBurst uint `mapstructure:"accept_burst" yaml:"accept_burst"`

	// MaxPendingSends bounds the per-session send queue; 0 means unbounded
	MaxPendingSends int `mapstructure:"max_pending_sends" yaml:"max_pending_sends" validate:"gte=0"`
}

// HandlerConfig selects the payload handler.
type HandlerConfig struct {
	// Type names the handler implementation
	// Valid values: echo, discard
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=echo discard"`

	// Echo contains echo-specific options, used when Type = "echo"
	Echo map[string]any `mapstructure:"echo" yaml:"echo,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics HTTP port
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to a config file; empty uses the default location
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// YAML renders the effective configuration, for --print-config and debug
// logging.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(out), nil
}

// setupViper configures environment variables and the config file search.
func setupViper(v *viper.Viper, configPath string) {
	// Example: IOCPNET_SERVER_PORT=9100
	v.SetEnvPrefix("IOCPNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so bind every scalar key
	// explicitly; otherwise env vars apply only to keys set in the file.
	for _, key := range []string{
		"logging.level",
		"server.port", "server.workers", "server.buffer_size", "server.shutdown_timeout",
		"limits.accept_rate", "limits.accept_burst", "limits.max_pending_sends",
		"handler.type",
		"metrics.enabled", "metrics.port",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file is fine, defaults apply.
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory, honoring
// XDG_CONFIG_HOME.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "iocpnet")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "iocpnet")
}
