// Package delta turns a project snapshot into the minimal set of changed and
// deleted files relative to the last state sent to a compile server.
package delta

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/shehryarbajwa/texbridge/internal/hashstore"
	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// Digest returns the hex BLAKE3-256 digest of raw file bytes
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Digests computes the digest of every file in the snapshot. Binary files
// are hashed over their decoded bytes. Any failure aborts the whole set.
func Digests(snap *models.ProjectSnapshot) (map[string]string, error) {
	out := make(map[string]string, snap.Len())
	for path, content := range snap.Files {
		out[path] = Digest([]byte(content))
	}
	for path, encoded := range snap.BinaryFiles {
		if _, dup := out[path]; dup {
			return nil, fmt.Errorf("path %s is both text and binary", path)
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		out[path] = Digest(raw)
	}
	return out, nil
}

// Diff compares stored digests against current ones. A path is changed when
// it is new or its digest differs; a stored path missing from current is
// deleted. Both results are sorted.
func Diff(stored, current map[string]string) (changed, deleted []string) {
	changed = []string{}
	deleted = []string{}
	for path, digest := range current {
		if prev, ok := stored[path]; !ok || prev != digest {
			changed = append(changed, path)
		}
	}
	for path := range stored {
		if _, ok := current[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(changed)
	sort.Strings(deleted)
	return changed, deleted
}

// Synchronizer computes deltas against a hash store
type Synchronizer struct {
	store hashstore.Store
}

func NewSynchronizer(store hashstore.Store) *Synchronizer {
	return &Synchronizer{store: store}
}

// Sync computes the delta for snap and, on success, replaces the stored
// digests with the snapshot's. Nothing is persisted when hashing fails.
func (s *Synchronizer) Sync(snap *models.ProjectSnapshot) (*models.DeltaPayload, error) {
	current, err := Digests(snap)
	if err != nil {
		return nil, fmt.Errorf("hashing snapshot: %w", err)
	}

	stored, err := s.store.Load(snap.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("loading hash record: %w", err)
	}

	changed, deleted := Diff(stored, current)

	payload := &models.DeltaPayload{
		ProjectID:     snap.ProjectID,
		ChangedFiles:  make(map[string]string),
		ChangedBinary: make(map[string]string),
		DeletedFiles:  deleted,
		HasChanges:    len(changed) > 0 || len(deleted) > 0,
	}
	for _, path := range changed {
		if content, ok := snap.Files[path]; ok {
			payload.ChangedFiles[path] = content
			continue
		}
		payload.ChangedBinary[path] = snap.BinaryFiles[path]
	}

	if err := s.store.Save(snap.ProjectID, current); err != nil {
		return nil, fmt.Errorf("saving hash record: %w", err)
	}
	return payload, nil
}

// Commit records snap as the state the server now holds. Used after a full
// compile repopulates a cleared record.
func (s *Synchronizer) Commit(snap *models.ProjectSnapshot) error {
	current, err := Digests(snap)
	if err != nil {
		return fmt.Errorf("hashing snapshot: %w", err)
	}
	return s.store.Save(snap.ProjectID, current)
}

// Reset forgets the synchronized state of a project so the next sync is full
func (s *Synchronizer) Reset(projectID string) error {
	return s.store.Clear(projectID)
}

// Stored returns the digests currently recorded for a project
func (s *Synchronizer) Stored(projectID string) (map[string]string, error) {
	return s.store.Load(projectID)
}
