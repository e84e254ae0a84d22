package hashstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const ddl = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS hash_records (
    record_key TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    digests    TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore keeps HashRecords in a single SQLite database, one row per
// project.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and initializes the schema
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(projectID string) (map[string]string, error) {
	var raw string
	err := s.db.QueryRow("SELECT digests FROM hash_records WHERE record_key = ?", Key(projectID)).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read hash record: %w", err)
	}

	digests := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &digests); err != nil {
		return nil, fmt.Errorf("failed to decode hash record: %w", err)
	}
	return digests, nil
}

// Save replaces the record in a single statement
func (s *SQLiteStore) Save(projectID string, pathToDigest map[string]string) error {
	raw, err := json.Marshal(copyDigests(pathToDigest))
	if err != nil {
		return fmt.Errorf("failed to encode hash record: %w", err)
	}
	_, err = s.db.Exec(`
INSERT INTO hash_records (record_key, project_id, digests, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(record_key) DO UPDATE SET digests = excluded.digests, updated_at = CURRENT_TIMESTAMP`,
		Key(projectID), projectID, string(raw))
	if err != nil {
		return fmt.Errorf("failed to save hash record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(projectID string) error {
	if _, err := s.db.Exec("DELETE FROM hash_records WHERE record_key = ?", Key(projectID)); err != nil {
		return fmt.Errorf("failed to clear hash record: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
