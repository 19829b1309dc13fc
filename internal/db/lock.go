package db

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLockKey maps a string key onto the bigint space of pg_advisory_lock.
func AdvisoryLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// TryAdvisoryLock takes a session-level advisory lock on a dedicated pool connection.
// It returns ok=false without blocking when another session holds the lock. The
// returned release func unlocks and returns the connection; it must always be called when ok is true.
func TryAdvisoryLock(ctx context.Context, pool *pgxpool.Pool, key string) (release func(), ok bool, err error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire conn: %w", err)
	}
	id := AdvisoryLockKey(key)
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		// the caller's context may already be cancelled; unlock on a fresh one
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", id)
		conn.Release()
	}, true, nil
}
