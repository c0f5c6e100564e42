/*
config.go - Environment configuration

PURPOSE:
  Reads every runtime setting from GIRVI_* environment variables. In
  development a .env file is loaded first (godotenv); variables already
  set in the environment win.

SECTIONS:
  App       environment name, HTTP port, log level and format
  Store     backend driver (memory | sqlite | postgres) and its connection
  Lock      per-item lock backend (local | redis)
  Defaults  master-data defaults applied when an item omits them, batch
            parallelism

EXAMPLE:
  GIRVI_STORE_DRIVER=sqlite GIRVI_SQLITE_PATH=./girvi.db ./server

SEE ALSO:
  - cmd/server/main.go: turns a Config into a running engine
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/warp/girvi-engine/pledge"
)

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	App      AppConfig
	Store    StoreConfig
	Lock     LockConfig
	Defaults DefaultsConfig
}

type AppConfig struct {
	Env       string `envconfig:"GIRVI_APP_ENV" default:"dev"`
	Port      int    `envconfig:"GIRVI_APP_PORT" default:"8080"`
	LogLevel  string `envconfig:"GIRVI_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"GIRVI_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

type StoreConfig struct {
	Driver     string `envconfig:"GIRVI_STORE_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"GIRVI_SQLITE_PATH" default:"girvi.db"`
	PostgresDSN string `envconfig:"GIRVI_POSTGRES_DSN"`

	MaxOpenConns    int           `envconfig:"GIRVI_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GIRVI_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GIRVI_DB_CONN_MAX_LIFETIME" default:"1h"`
}

type LockConfig struct {
	Backend   string        `envconfig:"GIRVI_LOCK_BACKEND" default:"local"`
	RedisAddr string        `envconfig:"GIRVI_REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int           `envconfig:"GIRVI_REDIS_DB" default:"0"`
	RedisPass string        `envconfig:"GIRVI_REDIS_PASSWORD"`
	LeaseTTL  time.Duration `envconfig:"GIRVI_LOCK_LEASE_TTL" default:"10s"`
	Retry     time.Duration `envconfig:"GIRVI_LOCK_RETRY" default:"25ms"`
	Wait      time.Duration `envconfig:"GIRVI_LOCK_WAIT" default:"5s"`
}

type DefaultsConfig struct {
	AnnualRate  string `envconfig:"GIRVI_DEFAULT_RATE" default:"24"`
	Compounding string `envconfig:"GIRVI_DEFAULT_COMPOUNDING" default:"monthly"`
	Parallelism int    `envconfig:"GIRVI_BATCH_PARALLELISM" default:"8"`
}

// Rate returns the default annual rate as a decimal.
func (d DefaultsConfig) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(d.AnnualRate)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("GIRVI_DEFAULT_RATE: %w", err)
	}
	return rate, nil
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown drivers and incomplete backend settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("GIRVI_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Lock.Backend {
	case LockLocal, LockRedis:
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
	if c.Lock.Backend == LockRedis && c.Lock.LeaseTTL <= 0 {
		return fmt.Errorf("GIRVI_LOCK_LEASE_TTL must be positive")
	}

	switch c.App.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.App.LogFormat)
	}

	rate, err := c.Defaults.Rate()
	if err != nil {
		return err
	}
	if !rate.IsPositive() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("GIRVI_DEFAULT_RATE must be in (0, 100], got %s", rate)
	}
	if _, err := pledge.ParseCompounding(c.Defaults.Compounding); err != nil {
		return fmt.Errorf("GIRVI_DEFAULT_COMPOUNDING: %w", err)
	}
	if c.Defaults.Parallelism <= 0 {
		return fmt.Errorf("GIRVI_BATCH_PARALLELISM must be positive")
	}
	return nil
}
