// Package config содержит логику чтения конфигурации сервиса.
package config

import (
	"flag"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress        = "localhost:8080"
	defaultReconcileSchedule = "0 0,12 * * *"
	defaultCleanupSchedule   = "0 3 1 * *"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	RedisAddress      string `env:"REDIS_ADDR"`
	JWTSecret         string `env:"JWT_SECRET"`
	Timezone          string `env:"TIMEZONE" envDefault:"UTC"`
	ReconcileSchedule string `env:"RECONCILE_SCHEDULE" envDefault:"0 0,12 * * *"`
	CleanupSchedule   string `env:"CLEANUP_SCHEDULE" envDefault:"0 3 1 * *"`
	ReconcilePolicy   string `env:"RECONCILE_POLICY" envDefault:"active_only"`
	RateLimitRPM      int    `env:"RATE_LIMIT_RPM" envDefault:"120"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile           string `env:"LOG_FILE"`

	location *time.Location
}

// Location возвращает часовой пояс, в котором считаются календарные дни.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress
	envJWTSecret := cfg.JWTSecret

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for distributed score locks")
	flag.StringVar(&cfg.JWTSecret, "s", "", "HMAC secret for bearer tokens")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.ReconcileSchedule == "" {
		cfg.ReconcileSchedule = defaultReconcileSchedule
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = defaultCleanupSchedule
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	cfg.location = loc

	return cfg, nil
}
