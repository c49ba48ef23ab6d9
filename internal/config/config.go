// Package config loads server configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	App      AppConfig      `envPrefix:"APP_"`
	Database DatabaseConfig `envPrefix:"DATABASE_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
}

// AppConfig represents the HTTP server configuration.
type AppConfig struct {
	Name            string        `env:"NAME" envDefault:"exchange"`
	Port            int           `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// DatabaseConfig selects the PostgreSQL trade journal. An empty URL keeps
// the journal in memory.
type DatabaseConfig struct {
	URL string `env:"URL"`
}

// RedisConfig enables the journal read cache when URL is set.
type RedisConfig struct {
	URL string        `env:"URL"`
	TTL time.Duration `env:"TTL" envDefault:"30s"`
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"exchange.events"`
}

// Addr returns the listen address for the HTTP server.
func (c AppConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load loads the configuration from the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
