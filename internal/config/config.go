// Package config holds the runtime configuration and the fixed business rules
// of the pairing backend.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// Queue
	QueueTimeout = 5 * time.Minute

	// Invitation
	InvitationTTL = 24 * time.Hour

	// Devices
	DeviceOnlineWindow = 15 * time.Second

	// Storage drivers
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	// DevJWTSecret signs tokens in memory mode when JWT_SECRET is unset.
	DevJWTSecret = "heartlink-dev-secret"
)

// Config is populated from the environment (and an optional .env file).
type Config struct {
	HTTPAddr      string        `env:"HTTP_ADDR" envDefault:":8080"`
	StorageDriver string        `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string        `env:"DATABASE_URL" envDefault:"host=localhost user=user password=password dbname=heartlinkdb port=5432 sslmode=disable"`
	RedisURL      string        `env:"REDIS_URL"`
	JWTSecret     string        `env:"JWT_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"5m"`

	ExpiryWorkerEnabled bool   `env:"EXPIRY_WORKER_ENABLED" envDefault:"false"`
	TelegramBotToken    string `env:"TELEGRAM_BOT_TOKEN"`

	RelaySendBuffer  int      `env:"RELAY_SEND_BUFFER" envDefault:"64"`
	PersistWorkers   int      `env:"PERSIST_WORKERS" envDefault:"4"`
	PersistQueueSize int      `env:"PERSIST_QUEUE_SIZE" envDefault:"1024"`
	CORSOrigins      []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads .env (if present) and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("WARNING: .env file not loaded, using process environment")
	}
	return Parse()
}

// Parse builds a Config from the current process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that env tags cannot express.
func (c *Config) Validate() error {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	switch c.StorageDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.JWTSecret == "" {
		if c.StorageDriver == DriverPostgres {
			return fmt.Errorf("config: JWT_SECRET is required with the %s driver", DriverPostgres)
		}
		log.Println("WARNING: JWT_SECRET not set, using the development secret")
		c.JWTSecret = DevJWTSecret
	}
	if c.ExpiryWorkerEnabled && c.RedisURL == "" {
		return fmt.Errorf("config: EXPIRY_WORKER_ENABLED requires REDIS_URL")
	}
	if c.RelaySendBuffer <= 0 || c.PersistWorkers <= 0 || c.PersistQueueSize <= 0 {
		return fmt.Errorf("config: relay buffer, persist workers and persist queue size must be positive")
	}
	return nil
}
