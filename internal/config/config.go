// Package config loads process configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Bank     ServiceConfig  `json:"bank" yaml:"bank"`
	Audit    ServiceConfig  `json:"audit" yaml:"audit"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port string `json:"port" yaml:"port"`
}

// DatabaseConfig holds the PostgreSQL connection settings. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL          string `json:"url" yaml:"url"`
	EnsureSchema bool   `json:"ensure_schema" yaml:"ensure_schema"`
}

// RedisConfig holds the optional snapshot-cache settings.
type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

// ServiceConfig points at an external service with its bearer credential.
type ServiceConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	AppID    string `json:"app_id" yaml:"app_id"`
}

// Load reads the YAML file at path (skipped when empty), then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.Server.Port, "PORT")
	overrideString(&c.Database.URL, "DATABASE_URL")
	if os.Getenv("ENSURE_SCHEMA") == "1" {
		c.Database.EnsureSchema = true
	}
	overrideString(&c.Redis.URL, "REDIS_URL")
	overrideString(&c.Bank.Endpoint, "BANK_ENDPOINT")
	overrideString(&c.Bank.AppID, "BANK_APPID")
	overrideString(&c.Audit.Endpoint, "LOG_ENDPOINT")
	overrideString(&c.Audit.AppID, "LOG_APPID")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
