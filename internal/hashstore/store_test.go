package hashstore

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "hashes"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "hashes.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"file":   fileStore,
		"sqlite": sqliteStore,
		"memory": NewMemoryStore(),
	}
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		got, err := store.Load("never-synced")
		if err != nil {
			t.Fatalf("%s: Load: %v", name, err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("%s: Load = %v, want empty non-nil map", name, got)
		}
	}
}

func TestSaveReplacesWholeRecord(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		if err := store.Save("p1", map[string]string{"a.tex": "1", "b.tex": "2"}); err != nil {
			t.Fatalf("%s: Save: %v", name, err)
		}
		if err := store.Save("p1", map[string]string{"a.tex": "3"}); err != nil {
			t.Fatalf("%s: Save: %v", name, err)
		}
		got, err := store.Load("p1")
		if err != nil {
			t.Fatalf("%s: Load: %v", name, err)
		}
		want := map[string]string{"a.tex": "3"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: Load = %v, want %v", name, got, want)
		}
	}
}

func TestClearIsScopedToProject(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		store.Save("p1", map[string]string{"a.tex": "1"})
		store.Save("p2", map[string]string{"b.tex": "2"})

		if err := store.Clear("p1"); err != nil {
			t.Fatalf("%s: Clear: %v", name, err)
		}
		if err := store.Clear("p1"); err != nil {
			t.Fatalf("%s: second Clear: %v", name, err)
		}

		if got, _ := store.Load("p1"); len(got) != 0 {
			t.Errorf("%s: p1 after Clear = %v", name, got)
		}
		if got, _ := store.Load("p2"); got["b.tex"] != "2" {
			t.Errorf("%s: p2 was touched: %v", name, got)
		}
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hashes")
	first, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := first.Save("proj/with/slashes", map[string]string{"main.tex": "abc"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	got, err := second.Load("proj/with/slashes")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["main.tex"] != "abc" {
		t.Errorf("Load after reopen = %v", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected exactly one record file, got %d", len(entries))
	}
}

func TestSaveDoesNotAliasCallerMap(t *testing.T) {
	store := NewMemoryStore()
	digests := map[string]string{"a.tex": "1"}
	store.Save("p", digests)
	digests["a.tex"] = "mutated"

	got, _ := store.Load("p")
	if got["a.tex"] != "1" {
		t.Errorf("stored record changed with caller map: %v", got)
	}
}
