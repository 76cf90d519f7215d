// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/syncroom/internal/app/coordinator"
)

// Config represents the application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig represents the relay hub server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

// CoordinatorConfig represents coordinator tuning.
type CoordinatorConfig struct {
	MaxPlaybackDriftSeconds       float64  `yaml:"max_playback_drift_seconds" default:"1.0" validate:"gt=0"`
	PositionUpdateIntervalSeconds float64  `yaml:"position_update_interval_seconds" default:"2.0" validate:"gt=0"`
	AllowedTransportRoles         []string `yaml:"allowed_transport_roles"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Output string `yaml:"output" default:"stdout"`
}

// Runtime converts the coordinator section into the runtime config.
func (c CoordinatorConfig) Runtime() coordinator.Config {
	return coordinator.Config{
		MaxPlaybackDrift:       c.MaxPlaybackDriftSeconds,
		PositionUpdateInterval: time.Duration(c.PositionUpdateIntervalSeconds * float64(time.Second)),
	}
}

// Default returns the configuration with all defaults applied.
func Default() (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SYNCROOM_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SYNCROOM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}
