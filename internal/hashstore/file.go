package hashstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// FileStore keeps each HashRecord as a JSON file under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create hash store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(projectID string) string {
	return filepath.Join(s.dir, Key(projectID)+".json")
}

// Load reads the stored digests for a project
func (s *FileStore) Load(projectID string) (map[string]string, error) {
	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read hash record: %w", err)
	}

	var rec models.HashRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode hash record: %w", err)
	}
	if rec.PathToDigest == nil {
		return map[string]string{}, nil
	}
	return rec.PathToDigest, nil
}

// Save writes the record through a temp file and rename so a crash never
// leaves a truncated record behind.
func (s *FileStore) Save(projectID string, pathToDigest map[string]string) error {
	rec := models.HashRecord{
		ProjectID:    projectID,
		PathToDigest: copyDigests(pathToDigest),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode hash record: %w", err)
	}

	f, err := os.CreateTemp(s.dir, ".tmp-"+Key(projectID)+"-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write hash record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync hash record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path(projectID))
}

// Clear removes the record. Clearing a missing record is not an error.
func (s *FileStore) Clear(projectID string) error {
	if err := os.Remove(s.path(projectID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear hash record: %w", err)
	}
	return nil
}
