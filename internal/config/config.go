// Package config loads process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/talgya/outposts/internal/persistence"
	"github.com/talgya/outposts/internal/raider"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Database selects and locates the store.
type Database struct {
	Dialect     string `env:"DB_DIALECT" envDefault:"sqlite"`
	SQLitePath  string `env:"DB_SQLITE_PATH" envDefault:"data/outposts.db"`
	PostgresDSN string `env:"DB_POSTGRES_DSN"`
}

// Persistence converts to the store's config.
func (d Database) Persistence() (persistence.Config, error) {
	cfg := persistence.Config{SQLitePath: d.SQLitePath, PostgresDSN: d.PostgresDSN}
	switch strings.ToLower(strings.TrimSpace(d.Dialect)) {
	case "", "sqlite":
		cfg.Dialect = persistence.DialectSQLite
		if cfg.SQLitePath == "" {
			return cfg, errors.New("DB_SQLITE_PATH is required for sqlite")
		}
	case "postgres", "postgresql", "pgx":
		cfg.Dialect = persistence.DialectPostgres
		if cfg.PostgresDSN == "" {
			return cfg, errors.New("DB_POSTGRES_DSN is required for postgres")
		}
	default:
		return cfg, fmt.Errorf("unknown DB_DIALECT %q", d.Dialect)
	}
	return cfg, nil
}

// RaiderSettings are shared by the standalone and embedded raider.
type RaiderSettings struct {
	Interval   time.Duration `env:"RAIDER_INTERVAL" envDefault:"5m"`
	MemoryFile string        `env:"RAIDER_MEMORY_FILE" envDefault:"raider_memory.json"`
	PolicyFile string        `env:"RAIDER_POLICY_FILE"`
	Policy     raider.Policy
}

// LoadPolicy applies the policy file, if any, over the env policy.
func (r RaiderSettings) LoadPolicy() (raider.Policy, error) {
	return raider.LoadPolicy(r.PolicyFile, r.Policy)
}

// Outpostd configures the ledger server.
type Outpostd struct {
	Port             int           `env:"OUTPOSTD_PORT" envDefault:"8080"`
	ControllerKey    string        `env:"OUTPOSTD_CONTROLLER_KEY"`
	TokenSecret      string        `env:"OUTPOSTD_TOKEN_SECRET"`
	SlotInterval     time.Duration `env:"OUTPOSTD_SLOT_INTERVAL" envDefault:"500ms"`
	CORSOrigins      []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	BuyRatePerMinute int           `env:"BUY_RATE_PER_MINUTE" envDefault:"30"`
	BuyBurst         int           `env:"BUY_RATE_BURST" envDefault:"5"`
	RedisAddr        string        `env:"REDIS_ADDR"`
	EmbedRaider      bool          `env:"OUTPOSTD_EMBED_RAIDER" envDefault:"false"`
	RandomOrgKey     string        `env:"RANDOM_ORG_KEY"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	Database
	Raider RaiderSettings
}

// LoadOutpostd parses and checks the server configuration.
func LoadOutpostd() (Outpostd, error) {
	var cfg Outpostd
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("OUTPOSTD_PORT %d out of range", cfg.Port)
	}
	if cfg.SlotInterval <= 0 {
		return cfg, errors.New("OUTPOSTD_SLOT_INTERVAL must be positive")
	}
	if cfg.EmbedRaider && cfg.ControllerKey == "" {
		return cfg, errors.New("OUTPOSTD_EMBED_RAIDER requires OUTPOSTD_CONTROLLER_KEY")
	}
	if _, err := cfg.Persistence(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Raider configures the standalone raid controller.
type Raider struct {
	APIURL        string `env:"RAIDER_API_URL" envDefault:"http://localhost:8080"`
	ControllerKey string `env:"OUTPOSTD_CONTROLLER_KEY,required,notEmpty"`
	RandomOrgKey  string `env:"RANDOM_ORG_KEY"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	RaiderSettings
}

// LoadRaider parses the raider configuration.
func LoadRaider() (Raider, error) {
	var cfg Raider
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Interval <= 0 {
		return cfg, errors.New("RAIDER_INTERVAL must be positive")
	}
	return cfg, nil
}

// ParseLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
