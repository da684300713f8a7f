// Package config loads the exporter configuration from an optional YAML
// file, environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the exporter.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Meter   MeterConfig   `mapstructure:"meter"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	// Address is the listen address of the scrape endpoint.
	Address string `mapstructure:"address"`

	// RateLimit and RateLimitBurst bound the accepted scrape rate.
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type MeterConfig struct {
	// Address is the TCP address of the P1 reader. Required.
	Address string `mapstructure:"address"`

	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file (optional, pass "" to skip)
// and from P1EXPORTER_* environment variables, on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("P1EXPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate checks the fields no default can supply.
func (c *Config) Validate() error {
	if c.Meter.Address == "" {
		return errors.New("meter address is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1:4545")
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_limit_burst", 20)

	// Registered empty so the environment override is picked up by
	// Unmarshal even without a config file.
	v.SetDefault("meter.address", "")
	v.SetDefault("meter.dial_timeout", 5*time.Second)
	v.SetDefault("meter.read_timeout", 2*time.Second)
	v.SetDefault("meter.retry_delay", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
