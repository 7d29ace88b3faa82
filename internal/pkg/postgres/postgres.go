// Package postgres provides PostgreSQL connection and migration utilities.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config contains PostgreSQL connection configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
}

// Connect establishes a connection pool to PostgreSQL with retry logic.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var pool *pgxpool.Pool
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			lastErr = err
			if attempt < attempts && !retryWait(ctx, attempt, attempts, err) {
				return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
			}
			continue
		}

		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = err
			if attempt < attempts && !retryWait(ctx, attempt, attempts, err) {
				return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
			}
			continue
		}

		slog.Info("connected to database", "attempts", attempt)
		return pool, nil
	}

	return nil, fmt.Errorf("connect to database after %d attempts: %w", attempts, lastErr)
}

// retryWait logs the failure and sleeps with exponential backoff capped at
// 16 seconds. Returns false if the context was cancelled while waiting.
func retryWait(ctx context.Context, attempt, maxAttempts int, cause error) bool {
	backoff := time.Duration(1<<(attempt-1)) * time.Second
	if backoff > 16*time.Second {
		backoff = 16 * time.Second
	}

	slog.Warn("database connection failed, retrying",
		"attempt", attempt,
		"max_attempts", maxAttempts,
		"backoff", backoff,
		"error", cause,
	)

	select {
	case <-time.After(backoff):
		return true
	case <-ctx.Done():
		return false
	}
}
