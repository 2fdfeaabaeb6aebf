// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the PostgreSQL connection pool and schema migrations
// shared by the clan, territory and war repositories.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions bounds the startup ping loop.
type ConnectOptions struct {
	Attempts  uint64
	BaseDelay time.Duration
	MaxConns  int32
}

// DefaultConnectOptions waits roughly half a minute for the database.
var DefaultConnectOptions = ConnectOptions{
	Attempts:  8,
	BaseDelay: 250 * time.Millisecond,
}

// Open creates a pool and pings it with exponential backoff until the
// database answers or the attempts run out.
func Open(ctx context.Context, dsn string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("INVALID_DATABASE_URL").With("operation", "parse database url").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := ping(ctx, backoff(opts), pool.Ping); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", opts.Attempts).
			Wrap(err)
	}
	return pool, nil
}

func backoff(opts ConnectOptions) retry.Backoff {
	if opts.Attempts == 0 {
		opts.Attempts = DefaultConnectOptions.Attempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultConnectOptions.BaseDelay
	}
	b := retry.NewExponential(opts.BaseDelay)
	b = retry.WithCappedDuration(5*time.Second, b)
	// WithMaxRetries counts retries, not attempts.
	return retry.WithMaxRetries(opts.Attempts-1, b)
}

func ping(ctx context.Context, b retry.Backoff, fn func(context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := fn(ctx); err != nil {
			slog.Warn("database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
