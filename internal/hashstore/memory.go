package hashstore

import "sync"

// MemoryStore is a Store that lives only as long as the process. Used when
// no persistent location is configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]string)}
}

func (s *MemoryStore) Load(projectID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyDigests(s.records[projectID]), nil
}

func (s *MemoryStore) Save(projectID string, pathToDigest map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[projectID] = copyDigests(pathToDigest)
	return nil
}

func (s *MemoryStore) Clear(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, projectID)
	return nil
}
