// Package config loads typed configuration from the environment, following
// the teacher's layered approach (pkg/config/loader.go, merge.go): defaults
// first, then environment overrides merged on top via dario.cat/mergo.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            int           `env:"DB_PORT" envDefault:"5432"`
	User            string        `env:"DB_USER" envDefault:"clawops"`
	Password        string        `env:"DB_PASSWORD"`
	Database        string        `env:"DB_NAME" envDefault:"clawops"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"15m"`
}

// DSN renders a libpq connection string for the pgx stdlib driver.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

func (c DBConfig) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)",
			c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1")
	}
	return nil
}

// RedisConfig holds the connection settings for the background job /
// wake-signal primitive (pkg/jobs).
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// SweeperConfig controls the periodic sweep loop (pkg/sweeper), grounded in
// the teacher's QueueConfig/RetentionConfig shape.
type SweeperConfig struct {
	// Interval is how often the sweeper runs all four phases.
	Interval time.Duration `env:"SWEEP_INTERVAL" envDefault:"2m"`

	// ClaimTTL is how long a decision claim lease is valid before it is
	// considered abandoned and reclaimed.
	ClaimTTL time.Duration `env:"CLAIM_TTL" envDefault:"5m"`

	// DeferThreshold is the number of NEEDS_DECISION cards per project above
	// which load shedding starts deferring new low-priority work.
	DeferThreshold int `env:"LOAD_SHED_DEFER_THRESHOLD" envDefault:"2"`

	// EmergencyThreshold is the number of NEEDS_DECISION cards per project
	// above which load shedding defers all but the highest-urgency work.
	EmergencyThreshold int `env:"LOAD_SHED_EMERGENCY_THRESHOLD" envDefault:"5"`

	// LoadShedDeferral is how long a deferred card's retry_at_ts is pushed
	// out by when load shedding defers it.
	LoadShedDeferral time.Duration `env:"LOAD_SHED_DEFERRAL" envDefault:"24h"`
}

// ServerConfig holds HTTP/WebSocket transport settings (pkg/api).
type ServerConfig struct {
	Addr             string   `env:"SERVER_ADDR" envDefault:":8080"`
	AllowedWSOrigins []string `env:"ALLOWED_WS_ORIGINS" envSeparator:","`

	// BotSecret is the single shared operational secret the Bot Interface's
	// HTTP adapter path authenticates with, carried in the X-Bot-Secret
	// header alongside X-Bot-Principal.
	BotSecret string `env:"BOT_SHARED_SECRET"`
}

// Config is the fully resolved, validated application configuration.
type Config struct {
	DB      DBConfig
	Redis   RedisConfig
	Sweeper SweeperConfig
	Server  ServerConfig
}

// DefaultSweeperConfig returns the built-in sweeper defaults, mirroring the
// teacher's DefaultQueueConfig/DefaultRetentionConfig pattern.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:           2 * time.Minute,
		ClaimTTL:           5 * time.Minute,
		DeferThreshold:     2,
		EmergencyThreshold: 5,
		LoadShedDeferral:   24 * time.Hour,
	}
}

// Load reads an optional .env file, then binds every sub-config from the
// environment, merging onto built-in defaults so unset fields keep their
// default rather than zero-valuing.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	var db DBConfig
	if err := env.Parse(&db); err != nil {
		return nil, fmt.Errorf("parsing db config: %w", err)
	}
	if err := db.Validate(); err != nil {
		return nil, err
	}

	var redis RedisConfig
	if err := env.Parse(&redis); err != nil {
		return nil, fmt.Errorf("parsing redis config: %w", err)
	}

	sweeper := DefaultSweeperConfig()
	var sweeperOverride SweeperConfig
	if err := env.Parse(&sweeperOverride); err != nil {
		return nil, fmt.Errorf("parsing sweeper config: %w", err)
	}
	if err := mergo.Merge(&sweeper, sweeperOverride, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging sweeper config: %w", err)
	}

	var server ServerConfig
	if err := env.Parse(&server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	return &Config{
		DB:      db,
		Redis:   redis,
		Sweeper: sweeper,
		Server:  server,
	}, nil
}
