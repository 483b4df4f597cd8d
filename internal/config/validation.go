package config

import (
	"database/sql"
	"fmt"
	"time"
)

// finalize applies remaining defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q (expected json or console)", c.Logging.Format)
	}

	switch c.Storage.Backend {
	case "", "memory", "mongodb", "postgres":
	default:
		return fmt.Errorf("invalid storage backend %q (expected memory, mongodb, or postgres)", c.Storage.Backend)
	}

	if c.Rates.FallbackKrwPerUsdt < 0 {
		return fmt.Errorf("rates fallback_krw_per_usdt must be non-negative")
	}
	if c.Rates.RefreshInterval.Duration <= 0 {
		c.Rates.RefreshInterval = Duration{Duration: 1 * time.Minute}
	}
	if c.Rates.RequestTimeout.Duration <= 0 {
		c.Rates.RequestTimeout = Duration{Duration: 3 * time.Second}
	}

	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}

	// maxIdle cannot exceed maxOpen
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
