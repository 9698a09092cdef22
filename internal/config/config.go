package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	DirectoryURL  string `yaml:"directoryURL"`
	AuthJWKSURL   string `yaml:"authJWKSURL"`
	JWTIssuer     string `yaml:"jwtIssuer"`
	JWTAudience   string `yaml:"jwtAudience"`
	// ConnectionTTL is the absolute expiry stamped on connection rows,
	// as a Go duration string. Defaults to 24h.
	ConnectionTTL string `yaml:"connectionTTL"`
	// AMQPURL is optional; without it, notification events are skipped.
	AMQPURL        string `yaml:"amqpURL"`
	NotifyExchange string `yaml:"notifyExchange"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseConnectionTTL parses the configured TTL, defaulting to 24h.
func ParseConnectionTTL(raw string) (time.Duration, error) {
	if raw == "" {
		return 24 * time.Hour, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse connectionTTL: %w", err)
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("connectionTTL must be positive, got %s", raw)
	}
	return ttl, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.DirectoryURL == "" {
		return errors.New("config: directoryURL is required (set in config.yaml)")
	}
	if cfg.AuthJWKSURL == "" {
		return errors.New("config: authJWKSURL is required (set in config.yaml)")
	}
	if cfg.AMQPURL != "" && cfg.NotifyExchange == "" {
		return errors.New("config: notifyExchange is required when amqpURL is set")
	}
	return nil
}
