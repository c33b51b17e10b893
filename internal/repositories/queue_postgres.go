package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/pharmasync/internal/models"
)

// queueAdvisoryLock serializes enqueue transactions so that BIGSERIAL ids
// become visible in the order they were assigned.
const queueAdvisoryLock int64 = 0x70686172_6d61

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id        BIGSERIAL PRIMARY KEY,
		endpoint  TEXT NOT NULL CHECK (length(endpoint) > 0),
		method    TEXT NOT NULL CHECK (method IN ('POST', 'PUT', 'PATCH', 'DELETE')),
		payload   JSON NOT NULL,
		timestamp BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_lock (
		name       TEXT PRIMARY KEY,
		token      TEXT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
}

type PostgresQueueRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresQueueRepository(ctx context.Context, pool *pgxpool.Pool) (*PostgresQueueRepository, error) {
	r := &PostgresQueueRepository{pool: pool, now: time.Now}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PostgresQueueRepository) migrate(ctx context.Context) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Concurrent first runs from several processes must not race on DDL.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, queueAdvisoryLock); err != nil {
			return persistenceError("migrate", err)
		}
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
			return persistenceError("migrate", fmt.Errorf("failed to create schema_version: %w", err))
		}

		var current int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
			return persistenceError("migrate", fmt.Errorf("failed to read schema version: %w", err))
		}
		if current > len(postgresMigrations) {
			return fmt.Errorf("queue schema version %d is newer than supported version %d", current, len(postgresMigrations))
		}

		for v := current; v < len(postgresMigrations); v++ {
			if _, err := tx.Exec(ctx, postgresMigrations[v]); err != nil {
				return persistenceError("migrate", fmt.Errorf("failed to apply migration %d: %w", v+1, err))
			}
		}
		if current < len(postgresMigrations) {
			if _, err := tx.Exec(ctx, `DELETE FROM schema_version`); err != nil {
				return persistenceError("migrate", err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, len(postgresMigrations)); err != nil {
				return persistenceError("migrate", err)
			}
		}
		return nil
	})
}

func (r *PostgresQueueRepository) Enqueue(ctx context.Context, endpoint string, method models.Method, payload any) (*models.QueueEntry, error) {
	entry, err := newEntry(endpoint, method, payload, r.now())
	if err != nil {
		return nil, err
	}

	query := `INSERT INTO sync_queue (endpoint, method, payload, timestamp)
	          VALUES ($1, $2, $3, $4)
	          RETURNING id`

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, queueAdvisoryLock); err != nil {
			return err
		}
		return tx.QueryRow(ctx, query,
			entry.Endpoint,
			string(entry.Method),
			string(entry.Payload),
			entry.Timestamp,
		).Scan(&entry.ID)
	})
	if err != nil {
		return nil, persistenceError("enqueue", err)
	}
	return entry, nil
}

func (r *PostgresQueueRepository) ListPending(ctx context.Context) ([]*models.QueueEntry, error) {
	query := `SELECT id, endpoint, method, payload::text, timestamp
	          FROM sync_queue
	          ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		var (
			entry   models.QueueEntry
			method  string
			payload string
		)
		if err := rows.Scan(&entry.ID, &entry.Endpoint, &method, &payload, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entry.Method = models.Method(method)
		entry.Payload = []byte(payload)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

// Remove deletes the entry. Removing an id that is already gone is not an error.
func (r *PostgresQueueRepository) Remove(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1`, id); err != nil {
		return persistenceError("remove", err)
	}
	return nil
}

func (r *PostgresQueueRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// Close is a no-op; the pool is owned by the caller.
func (r *PostgresQueueRepository) Close() error {
	return nil
}
