package models

// ProjectSnapshot is the file set of a project at one point in time.
// Files holds UTF-8 text, BinaryFiles holds base64-encoded content.
type ProjectSnapshot struct {
	ProjectID   string            `json:"projectId"`
	Files       map[string]string `json:"files"`
	BinaryFiles map[string]string `json:"binaryFiles"`
}

// NewSnapshot returns an empty snapshot for a project
func NewSnapshot(projectID string) *ProjectSnapshot {
	return &ProjectSnapshot{
		ProjectID:   projectID,
		Files:       make(map[string]string),
		BinaryFiles: make(map[string]string),
	}
}

// Paths returns every path in the snapshot, text and binary
func (s *ProjectSnapshot) Paths() []string {
	paths := make([]string, 0, len(s.Files)+len(s.BinaryFiles))
	for p := range s.Files {
		paths = append(paths, p)
	}
	for p := range s.BinaryFiles {
		paths = append(paths, p)
	}
	return paths
}

// Len returns the number of files in the snapshot
func (s *ProjectSnapshot) Len() int {
	return len(s.Files) + len(s.BinaryFiles)
}

// HashRecord maps relative paths to hex content digests for one project
type HashRecord struct {
	ProjectID    string            `json:"projectId"`
	PathToDigest map[string]string `json:"pathToDigest"`
}

// DeltaPayload is the set of changed and deleted files relative to the
// last synchronized state. ChangedFiles and ChangedBinary never share keys
// with DeletedFiles.
type DeltaPayload struct {
	ProjectID     string            `json:"projectId"`
	ChangedFiles  map[string]string `json:"changedFiles"`
	ChangedBinary map[string]string `json:"changedBinary"`
	DeletedFiles  []string          `json:"deletedFiles"`
	HasChanges    bool              `json:"hasChanges"`
}

// ChangedPaths returns the paths of every changed entry, text and binary
func (d *DeltaPayload) ChangedPaths() []string {
	paths := make([]string, 0, len(d.ChangedFiles)+len(d.ChangedBinary))
	for p := range d.ChangedFiles {
		paths = append(paths, p)
	}
	for p := range d.ChangedBinary {
		paths = append(paths, p)
	}
	return paths
}
