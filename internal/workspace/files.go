package workspace

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// EmptyArchiveSize is the size of a zip with no entries
const EmptyArchiveSize = 22

// SafeJoin resolves a project-relative path inside dir. It reports false
// for absolute paths and paths that climb out of dir.
func SafeJoin(dir, rel string) (string, bool) {
	rel = filepath.FromSlash(strings.ReplaceAll(rel, "\\", "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.Join(dir, rel), true
}

// WriteFiles writes every file into dir, creating parent directories
func WriteFiles(dir string, files map[string][]byte) error {
	for name, data := range files {
		target, ok := SafeJoin(dir, name)
		if !ok {
			return fmt.Errorf("unsafe path %q", name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// ExtractZip unpacks an archive into dir and returns the number of files
// written. Entries with unsafe paths are skipped.
func ExtractZip(dir string, data []byte) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid zip archive: %w", err)
	}

	written := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		target, ok := SafeJoin(dir, f.Name)
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return written, err
		}
		if err := extractFile(f, target); err != nil {
			return written, fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		written++
	}
	return written, nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// DeleteFiles removes the named paths from dir, skipping unsafe ones, and
// returns the paths actually removed.
func DeleteFiles(dir string, paths []string) []string {
	var removed []string
	for _, name := range paths {
		target, ok := SafeJoin(dir, name)
		if !ok {
			continue
		}
		if _, err := os.Lstat(target); err != nil {
			continue
		}
		if err := os.RemoveAll(target); err == nil {
			removed = append(removed, name)
		}
	}
	return removed
}

// FindMainFile picks the root document: main.tex at the top level, then
// any main.tex, then the first .tex with a \documentclass, then the first
// .tex. Candidates are visited in sorted order.
func FindMainFile(dir string) (string, error) {
	var texFiles []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".tex") {
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			texFiles = append(texFiles, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(texFiles) == 0 {
		return "", fmt.Errorf("no .tex file found in project")
	}
	sort.Strings(texFiles)

	for _, f := range texFiles {
		if strings.EqualFold(f, "main.tex") {
			return f, nil
		}
	}
	for _, f := range texFiles {
		if strings.EqualFold(filepath.Base(f), "main.tex") {
			return f, nil
		}
	}
	for _, f := range texFiles {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f)))
		if err == nil && bytes.Contains(data, []byte(`\documentclass`)) {
			return f, nil
		}
	}
	return texFiles[0], nil
}
