// Package config loads zskl settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings shared by every zskl command. Command-line flags
// override the values parsed here.
type Config struct {
	TargetOpset int64  `env:"ZSKL_TARGET_OPSET" envDefault:"15"`
	LogFile     string `env:"ZSKL_LOG_FILE"     envDefault:"zskl.log"`
	LogLevel    string `env:"ZSKL_LOG_LEVEL"    envDefault:"info"`
	Workers     int    `env:"ZSKL_WORKERS"`

	HuggingFaceAPIURL string `env:"HUGGINGFACE_API_URL"`
	HuggingFaceCDNURL string `env:"HUGGINGFACE_CDN_URL"`
	HuggingFaceToken  string `env:"HF_API_KEY"`
}

// Load parses the environment into a Config and fills derived defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.TargetOpset <= 0 {
		return Config{}, fmt.Errorf("ZSKL_TARGET_OPSET must be positive, got %d", cfg.TargetOpset)
	}
	if _, err := cfg.Level(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid ZSKL_LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return l, nil
}
