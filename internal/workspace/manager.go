// Package workspace manages the per-project directories a compile server
// keeps between compiles.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Manager owns the cache directory. Each project gets one directory named
// after a hash of its id, so ids never reach the filesystem.
type Manager struct {
	root string

	mu   sync.Mutex
	used map[string]time.Time
}

func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Manager{root: root, used: make(map[string]time.Time)}, nil
}

// Root returns the cache directory
func (m *Manager) Root() string {
	return m.root
}

// Key is the directory name for a project
func Key(projectID string) string {
	sum := sha256.Sum256([]byte(projectID))
	return hex.EncodeToString(sum[:])[:16]
}

// Dir returns the project's directory without creating it
func (m *Manager) Dir(projectID string) string {
	return filepath.Join(m.root, Key(projectID))
}

// Exists reports whether the server holds state for the project
func (m *Manager) Exists(projectID string) bool {
	info, err := os.Stat(m.Dir(projectID))
	return err == nil && info.IsDir()
}

// Ensure returns the project directory, creating it when missing
func (m *Manager) Ensure(projectID string) (string, error) {
	dir := m.Dir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	m.touch(projectID)
	return dir, nil
}

// Reset empties the project directory so a full upload replaces all state
func (m *Manager) Reset(projectID string) (string, error) {
	if err := os.RemoveAll(m.Dir(projectID)); err != nil {
		return "", fmt.Errorf("failed to clear workspace: %w", err)
	}
	return m.Ensure(projectID)
}

// Delete removes a project's directory
func (m *Manager) Delete(projectID string) error {
	m.mu.Lock()
	delete(m.used, projectID)
	m.mu.Unlock()
	return os.RemoveAll(m.Dir(projectID))
}

// Temp creates a scratch directory for a compile without a project id
func (m *Manager) Temp() (string, func(), error) {
	dir, err := os.MkdirTemp(m.root, "tmp-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp workspace: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

func (m *Manager) touch(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[projectID] = time.Now()
}

// Prune removes workspaces of projects not used for maxIdle. Only projects
// seen by this process are considered.
func (m *Manager) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var stale []string
	for id, last := range m.used {
		if last.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Delete(id)
	}
	return len(stale)
}
