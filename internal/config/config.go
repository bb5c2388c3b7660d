package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port" env:"PORT"`
	} `yaml:"server" envPrefix:"SERVER_"`
	Redis struct {
		Addr     string `yaml:"addr" env:"ADDR"`
		Password string `yaml:"password" env:"PASSWORD"`
		DB       int    `yaml:"db" env:"DB"`
	} `yaml:"redis" envPrefix:"REDIS_"`
	Postgres struct {
		URL string `yaml:"url" env:"URL"`
	} `yaml:"postgres" envPrefix:"POSTGRES_"`
	Quiz struct {
		TTL string `yaml:"ttl" env:"TTL"`
	} `yaml:"quiz" envPrefix:"QUIZ_"`
	Presence struct {
		SweepInterval string `yaml:"sweepInterval" env:"SWEEP_INTERVAL"`
		Timeout       string `yaml:"timeout" env:"TIMEOUT"`
	} `yaml:"presence" envPrefix:"PRESENCE_"`
	Sweeper struct {
		FlushInterval string `yaml:"flushInterval" env:"FLUSH_INTERVAL"`
	} `yaml:"sweeper" envPrefix:"SWEEPER_"`
}

// Load reads YAML config from path, then overlays environment variables.
// A missing file is fine; env vars alone can configure the service.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty/invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
