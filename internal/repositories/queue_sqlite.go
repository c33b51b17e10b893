package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prudhvinik1/pharmasync/internal/models"
)

// sqliteMigrations are applied in order; index i upgrades the schema from
// version i to version i+1.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint  TEXT NOT NULL CHECK (length(endpoint) > 0),
		method    TEXT NOT NULL CHECK (method IN ('POST', 'PUT', 'PATCH', 'DELETE')),
		payload   TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_lock (
		name       TEXT PRIMARY KEY,
		token      TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
}

// SQLiteQueueRepository keeps the queue in a local SQLite file. AUTOINCREMENT
// guarantees ids are never reused, even after the newest row is removed.
type SQLiteQueueRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteQueueRepository initializes the schema on first run and migrates
// existing queues forward.
func NewSQLiteQueueRepository(ctx context.Context, db *sql.DB) (*SQLiteQueueRepository, error) {
	r := &SQLiteQueueRepository{db: db, now: time.Now}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLiteQueueRepository) migrate(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError("migrate", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return persistenceError("migrate", fmt.Errorf("failed to create schema_version: %w", err))
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return persistenceError("migrate", fmt.Errorf("failed to read schema version: %w", err))
	}
	if current > len(sqliteMigrations) {
		return fmt.Errorf("queue schema version %d is newer than supported version %d", current, len(sqliteMigrations))
	}

	for v := current; v < len(sqliteMigrations); v++ {
		if _, err := tx.ExecContext(ctx, sqliteMigrations[v]); err != nil {
			return persistenceError("migrate", fmt.Errorf("failed to apply migration %d: %w", v+1, err))
		}
	}
	if current < len(sqliteMigrations) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			return persistenceError("migrate", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, len(sqliteMigrations)); err != nil {
			return persistenceError("migrate", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistenceError("migrate", err)
	}
	return nil
}

func (r *SQLiteQueueRepository) Enqueue(ctx context.Context, endpoint string, method models.Method, payload any) (*models.QueueEntry, error) {
	entry, err := newEntry(endpoint, method, payload, r.now())
	if err != nil {
		return nil, err
	}

	query := `INSERT INTO sync_queue (endpoint, method, payload, timestamp)
	          VALUES (?, ?, ?, ?)
	          RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		entry.Endpoint,
		string(entry.Method),
		string(entry.Payload),
		entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return nil, persistenceError("enqueue", err)
	}
	return entry, nil
}

func (r *SQLiteQueueRepository) ListPending(ctx context.Context) ([]*models.QueueEntry, error) {
	query := `SELECT id, endpoint, method, payload, timestamp
	          FROM sync_queue
	          ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
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
func (r *SQLiteQueueRepository) Remove(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return persistenceError("remove", err)
	}
	return nil
}

func (r *SQLiteQueueRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

func (r *SQLiteQueueRepository) Close() error {
	return r.db.Close()
}
