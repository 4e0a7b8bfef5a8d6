package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "github.com/lib/pq"              // driver: postgres
	"gopkg.in/yaml.v3"

	"github.com/syssam/nomnom/dialect"
)

// Config holds the connection settings of a pool.
type Config struct {
	// DSN is the Postgres connection URL or keyword/value string.
	DSN string `yaml:"dsn"`
	// Driver is the database/sql driver: "postgres" (lib/pq) or "pgx".
	Driver          string        `yaml:"driver"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	// SlowThreshold enables statement counters and slow statement logging
	// when positive.
	SlowThreshold time.Duration `yaml:"slow_threshold"`
}

// DefaultConfig returns the settings used for omitted values.
func DefaultConfig() Config {
	return Config{
		Driver:          "pgx",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// LoadConfig reads a YAML config file over the defaults, then applies the
// NOMNOM_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("dialect/sql: read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("dialect/sql: parse config %s: %w", path, err)
			}
		}
	}
	return cfg, cfg.applyEnv()
}

func (c *Config) applyEnv() error {
	c.DSN = getenv("NOMNOM_DSN", c.DSN)
	c.Driver = getenv("NOMNOM_DRIVER", c.Driver)
	var err error
	if c.MaxOpenConns, err = getenvInt("NOMNOM_MAX_OPEN_CONNS", c.MaxOpenConns); err != nil {
		return err
	}
	if c.MaxIdleConns, err = getenvInt("NOMNOM_MAX_IDLE_CONNS", c.MaxIdleConns); err != nil {
		return err
	}
	if c.ConnMaxLifetime, err = getenvDuration("NOMNOM_CONN_MAX_LIFETIME", c.ConnMaxLifetime); err != nil {
		return err
	}
	if c.ConnMaxIdleTime, err = getenvDuration("NOMNOM_CONN_MAX_IDLE_TIME", c.ConnMaxIdleTime); err != nil {
		return err
	}
	if c.PingTimeout, err = getenvDuration("NOMNOM_PING_TIMEOUT", c.PingTimeout); err != nil {
		return err
	}
	c.SlowThreshold, err = getenvDuration("NOMNOM_SLOW_THRESHOLD", c.SlowThreshold)
	return err
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvInt(k string, fallback int) (int, error) {
	v := getenv(k, "")
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("dialect/sql: %s: %w", k, err)
	}
	return i, nil
}

func getenvDuration(k string, fallback time.Duration) (time.Duration, error) {
	v := getenv(k, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("dialect/sql: %s: %w", k, err)
	}
	return d, nil
}

// Validate reports settings the pool cannot be opened with.
func (c Config) Validate() error {
	if c.DSN == "" {
		return errors.New("dialect/sql: config: dsn is required")
	}
	switch c.Driver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("dialect/sql: config: unsupported driver %q", c.Driver)
	}
	return nil
}

// OpenConfig opens a pool from cfg, tunes it and pings the server. The pool
// is closed again when the ping fails.
func OpenConfig(ctx context.Context, cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: open: %w", err)
	}
	configure(db, cfg)
	if cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dialect/sql: ping: %w", err)
	}
	return OpenDB(cfg.Driver, db), nil
}

func configure(db *sql.DB, cfg Config) {
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}

// Instrument wraps d in a StatsDriver logging slow statements to logger
// when cfg.SlowThreshold is set, and returns d unchanged otherwise.
func Instrument(d *Driver, cfg Config, logger *slog.Logger) dialect.Driver {
	if cfg.SlowThreshold <= 0 {
		return d
	}
	return NewStatsDriver(d, WithSlowThreshold(cfg.SlowThreshold), WithSlowQueryLog(logger))
}
