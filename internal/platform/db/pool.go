package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing leaves headroom for the scheduler's nightly roll-up burst,
// which fans out one snapshot transaction per active unit on top of the
// regular API traffic.
const (
	connIdleTimeout   = 5 * time.Minute
	healthCheckPeriod = time.Minute
)

// NewPool opens the engine's Postgres pool and verifies connectivity before
// handing it out. Callers own the pool and close it on shutdown.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnIdleTime = connIdleTimeout
	cfg.HealthCheckPeriod = healthCheckPeriod
	// Tag sessions so pg_stat_activity distinguishes engine connections
	// from ad-hoc ones.
	cfg.ConnConfig.RuntimeParams["application_name"] = "bedcast"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
