package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Lease rows in sync_lock: a holder owns the row while its token is stored and
// expires_at (ms since epoch) lies in the future. An expired row is claimable
// by the next upsert.
const (
	claimLeaseSQLite = `INSERT INTO sync_lock (name, token, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
		WHERE sync_lock.expires_at <= ?`
	extendLeaseSQLite  = `UPDATE sync_lock SET expires_at = ? WHERE name = ? AND token = ?`
	releaseLeaseSQLite = `DELETE FROM sync_lock WHERE name = ? AND token = ?`

	claimLeasePostgres = `INSERT INTO sync_lock (name, token, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
		WHERE sync_lock.expires_at <= $4`
	extendLeasePostgres  = `UPDATE sync_lock SET expires_at = $1 WHERE name = $2 AND token = $3`
	releaseLeasePostgres = `DELETE FROM sync_lock WHERE name = $1 AND token = $2`
)

// SQLiteSyncLock is a lease row in the queue database. Every process that
// opens the same file shares it.
type SQLiteSyncLock struct {
	db   *sql.DB
	name string
	ttl  time.Duration
	now  func() time.Time
}

// SyncLock returns the pass lock stored next to this queue.
func (r *SQLiteQueueRepository) SyncLock(tag string, ttl time.Duration) *SQLiteSyncLock {
	if ttl <= 0 {
		ttl = DefaultSyncLockTTL
	}
	return &SQLiteSyncLock{db: r.db, name: tag, ttl: ttl, now: time.Now}
}

func (l *SQLiteSyncLock) Acquire(ctx context.Context) (Lease, bool, error) {
	token := uuid.NewString()
	now := l.now()

	res, err := l.db.ExecContext(ctx, claimLeaseSQLite, l.name, token, now.Add(l.ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}
	return &sqliteLease{lock: l, token: token}, true, nil
}

type sqliteLease struct {
	lock  *SQLiteSyncLock
	token string
}

func (le *sqliteLease) Extend(ctx context.Context) error {
	l := le.lock
	res, err := l.db.ExecContext(ctx, extendLeaseSQLite, l.now().Add(l.ttl).UnixMilli(), l.name, le.token)
	if err != nil {
		return fmt.Errorf("failed to extend sync lock: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to extend sync lock: %w", err)
	} else if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (le *sqliteLease) Release(ctx context.Context) error {
	if _, err := le.lock.db.ExecContext(ctx, releaseLeaseSQLite, le.lock.name, le.token); err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

// PostgresSyncLock is the same lease kept in the shared Postgres queue.
type PostgresSyncLock struct {
	pool *pgxpool.Pool
	name string
	ttl  time.Duration
	now  func() time.Time
}

// SyncLock returns the pass lock stored next to this queue.
func (r *PostgresQueueRepository) SyncLock(tag string, ttl time.Duration) *PostgresSyncLock {
	if ttl <= 0 {
		ttl = DefaultSyncLockTTL
	}
	return &PostgresSyncLock{pool: r.pool, name: tag, ttl: ttl, now: time.Now}
}

func (l *PostgresSyncLock) Acquire(ctx context.Context) (Lease, bool, error) {
	token := uuid.NewString()
	now := l.now()

	tag, err := l.pool.Exec(ctx, claimLeasePostgres, l.name, token, now.Add(l.ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}
	return &postgresLease{lock: l, token: token}, true, nil
}

type postgresLease struct {
	lock  *PostgresSyncLock
	token string
}

func (le *postgresLease) Extend(ctx context.Context) error {
	l := le.lock
	tag, err := l.pool.Exec(ctx, extendLeasePostgres, l.now().Add(l.ttl).UnixMilli(), l.name, le.token)
	if err != nil {
		return fmt.Errorf("failed to extend sync lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockLost
	}
	return nil
}

func (le *postgresLease) Release(ctx context.Context) error {
	if _, err := le.lock.pool.Exec(ctx, releaseLeasePostgres, le.lock.name, le.token); err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}
