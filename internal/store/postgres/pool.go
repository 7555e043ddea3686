// Package postgres reads historical candles from a PostgreSQL warehouse.
package postgres

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          4,
		MinConns:          0,
		MaxConnLifetime:   30 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
	}
}

// PoolConfigFromEnv applies DB_MAX_CONNS, DB_MIN_CONNS, DB_MAX_CONN_LIFETIME,
// DB_MAX_CONN_IDLE_TIME and DB_HEALTHCHECK_PERIOD over the defaults.
func PoolConfigFromEnv() PoolConfig {
	cfg := DefaultPoolConfig()

	if v := strings.TrimSpace(os.Getenv("DB_MAX_CONNS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.MaxConns = int32(n)
		}
	}
	if v := strings.TrimSpace(os.Getenv("DB_MIN_CONNS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.MinConns = int32(n)
		}
	}
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"DB_MAX_CONN_LIFETIME", &cfg.MaxConnLifetime},
		{"DB_MAX_CONN_IDLE_TIME", &cfg.MaxConnIdleTime},
		{"DB_HEALTHCHECK_PERIOD", &cfg.HealthCheckPeriod},
	}
	for _, d := range durations {
		if v := strings.TrimSpace(os.Getenv(d.env)); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				*d.dst = parsed
			}
		}
	}

	if cfg.MaxConns < 1 {
		cfg.MaxConns = 1
	}
	if cfg.MinConns < 0 {
		cfg.MinConns = 0
	}
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}

	return cfg
}

// NewPool opens a pgx pool for databaseURL.
func NewPool(ctx context.Context, databaseURL string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres parse dsn: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// Migrate creates the candles table when it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`create table if not exists candles (
			symbol text not null,
			tf int not null,
			ts timestamptz not null,
			open numeric not null,
			high numeric not null,
			low numeric not null,
			close numeric not null,
			volume numeric not null,
			primary key (symbol, tf, ts)
		);`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
