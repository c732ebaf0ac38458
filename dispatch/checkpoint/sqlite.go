package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It stores checkpoints in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Hosts where several dispatch jobs share one progress database
//   - Deployments that want queryable progress without extra infrastructure
//
// SQLiteStore uses WAL mode for concurrent reads and upserts by job name,
// so multiple dispatchers can share one database file.
//
// Schema:
//   - dispatch_checkpoints: one row per job name
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	job    string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./progress.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The job parameter names the pipeline run; checkpoints are upserted by
// job, so distinct jobs can share one database file.
//
// The store automatically:
//   - Creates the database file if it doesn't exist
//   - Creates the required table
//   - Enables WAL mode for concurrent reads
//
// Example:
//
//	store, err := checkpoint.NewSQLiteStore("./progress.db", "translation-run-7")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func NewSQLiteStore(path, job string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &SQLiteStore{
		db:  db,
		job: job,
	}

	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS dispatch_checkpoints (
			job_name TEXT PRIMARY KEY,
			last_processed_work_id INTEGER NOT NULL,
			input_offset INTEGER NOT NULL,
			output_offset INTEGER NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := s.db.ExecContext(ctx, table)
	return err
}

// Load retrieves the checkpoint for this store's job.
func (s *SQLiteStore) Load(ctx context.Context) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Checkpoint{}, fmt.Errorf("store is closed")
	}

	var cp Checkpoint
	row := s.db.QueryRowContext(ctx, `
		SELECT last_processed_work_id, input_offset, output_offset
		FROM dispatch_checkpoints WHERE job_name = ?
	`, s.job)
	if err := row.Scan(&cp.LastProcessedWorkID, &cp.InputOffset, &cp.OutputOffset); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("load checkpoint for %s: %w", s.job, err)
	}
	return cp, nil
}

// Save upserts the checkpoint for this store's job.
//
// The upsert is a single statement, so the stored row is never partially
// written; readers see the old checkpoint or the new one.
func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_checkpoints (job_name, last_processed_work_id, input_offset, output_offset, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(job_name) DO UPDATE SET
			last_processed_work_id = excluded.last_processed_work_id,
			input_offset = excluded.input_offset,
			output_offset = excluded.output_offset,
			updated_at = CURRENT_TIMESTAMP
	`, s.job, cp.LastProcessedWorkID, cp.InputOffset, cp.OutputOffset)
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", s.job, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
