// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// EngineLockKey is the session advisory lock held by a running engine.
// Only one process may own the territory and war caches at a time.
const EngineLockKey int64 = 0x636c616e776172 // "clanwar"

type lockConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TryLock attempts a session advisory lock without waiting.
func TryLock(ctx context.Context, conn lockConn, key int64) (bool, error) {
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		return false, oops.Code("LOCK_FAILED").With("operation", "try advisory lock").With("key", key).Wrap(err)
	}
	return ok, nil
}

// Unlock releases a session advisory lock taken by TryLock.
func Unlock(ctx context.Context, conn lockConn, key int64) error {
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
		return oops.Code("LOCK_FAILED").With("operation", "advisory unlock").With("key", key).Wrap(err)
	}
	return nil
}

// AcquireEngineLock takes EngineLockKey on a dedicated pool connection. The
// connection stays checked out until release is called. ok is false when
// another session holds the lock.
func AcquireEngineLock(ctx context.Context, pool *pgxpool.Pool) (release func(), ok bool, err error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, oops.Code("DB_CONNECT_FAILED").With("operation", "acquire lock connection").Wrap(err)
	}
	ok, err = TryLock(ctx, conn, EngineLockKey)
	if err != nil || !ok {
		conn.Release()
		return nil, false, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := Unlock(ctx, conn, EngineLockKey); err != nil {
			// The lock goes with the session; dropping the connection frees it.
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, true, nil
}
