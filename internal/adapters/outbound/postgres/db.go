// Package postgres archives order attempts in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBConfig sizes the connection pool. Zero fields keep the pgx defaults.
type DBConfig struct {
	URL string

	// ApplicationName shows up in pg_stat_activity.
	ApplicationName string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration
}

// DefaultDBConfig returns a small pool: the archive sees at most one write
// per poll cycle plus the occasional API read.
func DefaultDBConfig(url string) DBConfig {
	return DBConfig{
		URL:             url,
		ApplicationName: "p2pwatch",
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

func (c DBConfig) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if c.ApplicationName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = c.ApplicationName
	}
	for dst, v := range map[*int32]int32{&pc.MaxConns: c.MaxConns, &pc.MinConns: c.MinConns} {
		if v > 0 {
			*dst = v
		}
	}
	for dst, v := range map[*time.Duration]time.Duration{&pc.MaxConnLifetime: c.MaxConnLifetime, &pc.MaxConnIdleTime: c.MaxConnIdleTime} {
		if v > 0 {
			*dst = v
		}
	}
	return pc, nil
}

// OpenPool connects and pings. The caller closes the pool.
func OpenPool(ctx context.Context, cfg DBConfig) (*pgxpool.Pool, error) {
	pc, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
