package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists snapshots in SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the snapshot database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo TEXT NOT NULL,
			kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			fetched_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create snapshots table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_snapshots_key
		ON snapshots(repo, kind, entity_id, fetched_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create snapshot index: %w", err)
	}

	return nil
}

// Get returns the freshest snapshot for the key, or (nil, nil) on a miss
func (s *SQLiteStore) Get(ctx context.Context, key Key) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload, fetched_at
		FROM snapshots
		WHERE repo = ? AND kind = ? AND entity_id = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, key.Repo, string(key.Kind), key.ID)

	var payload []byte
	var fetchedAtStr string
	err := row.Scan(&payload, &fetchedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	fetchedAt, err := time.Parse(time.RFC3339, fetchedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fetched_at timestamp: %w", err)
	}

	return &Snapshot{Key: key, Payload: payload, FetchedAt: fetchedAt}, nil
}

// Put appends a new immutable snapshot version. Existing rows are never
// overwritten.
func (s *SQLiteStore) Put(ctx context.Context, key Key, payload []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (repo, kind, entity_id, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?)
	`, key.Repo, string(key.Kind), key.ID, payload, now)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// HasRepo reports whether any snapshot exists for the repository
func (s *SQLiteStore) HasRepo(ctx context.Context, repo string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM snapshots WHERE repo = ? LIMIT 1
	`, repo)

	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query snapshots for repo: %w", err)
	}
	return true, nil
}
