// Package hashstore persists the path-to-digest mapping of each project
// between compile invocations.
package hashstore

import (
	"crypto/sha256"
	"encoding/hex"
)

// Store persists one digest mapping per project. Load returns an empty,
// non-nil map when nothing is stored. Save replaces the whole mapping.
type Store interface {
	Load(projectID string) (map[string]string, error)
	Save(projectID string, pathToDigest map[string]string) error
	Clear(projectID string) error
}

// Key derives the storage key for a project. Project ids are opaque, so they
// are hashed instead of used as file names.
func Key(projectID string) string {
	sum := sha256.Sum256([]byte(projectID))
	return "hashes_" + hex.EncodeToString(sum[:])[:16]
}

func copyDigests(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
