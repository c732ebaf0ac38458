package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// It stores checkpoints in a relational database. Designed for:
//   - Fleets of dispatch jobs reporting progress to shared infrastructure
//   - Progress dashboards built with plain SQL
//   - Environments where local disk is ephemeral but the database is not
//
// Schema:
//   - dispatch_checkpoints: one row per job name
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	job    string
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/dispatch
//	user:password@tcp(127.0.0.1:3306)/dispatch?parseTime=true
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Use environment variables:
//	    dsn := os.Getenv("MYSQL_DSN")
//	    if dsn == "" {
//	        log.Fatal("MYSQL_DSN environment variable not set")
//	    }
//	    store, err := checkpoint.NewMySQLStore(dsn, jobName)
//
// The store automatically:
//   - Creates the required table if it doesn't exist
//   - Configures connection pooling
func NewMySQLStore(dsn, job string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	store := &MySQLStore{
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
func (s *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS dispatch_checkpoints (
			job_name VARCHAR(255) PRIMARY KEY,
			last_processed_work_id BIGINT NOT NULL,
			input_offset BIGINT NOT NULL,
			output_offset BIGINT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)
	`
	_, err := s.db.ExecContext(ctx, table)
	return err
}

// Load retrieves the checkpoint for this store's job.
func (s *MySQLStore) Load(ctx context.Context) (Checkpoint, error) {
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

// Save upserts the checkpoint for this store's job in a single statement.
func (s *MySQLStore) Save(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_checkpoints (job_name, last_processed_work_id, input_offset, output_offset)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			last_processed_work_id = VALUES(last_processed_work_id),
			input_offset = VALUES(input_offset),
			output_offset = VALUES(output_offset)
	`, s.job, cp.LastProcessedWorkID, cp.InputOffset, cp.OutputOffset)
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", s.job, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
