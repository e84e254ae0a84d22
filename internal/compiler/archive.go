package compiler

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// EmptyArchiveSize is the size of a zip with no entries. The server treats
// a delta archive this small as carrying no updates.
const EmptyArchiveSize = 22

// BuildDeltaArchive zips the changed files of a delta. Binary entries are
// written decoded. An empty delta yields an empty but valid archive.
func BuildDeltaArchive(p *models.DeltaPayload) ([]byte, error) {
	entries := make(map[string][]byte, len(p.ChangedFiles)+len(p.ChangedBinary))
	for name, content := range p.ChangedFiles {
		entries[name] = []byte(content)
	}
	for name, encoded := range p.ChangedBinary {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		entries[name] = raw
	}
	return writeZip(entries)
}

func writeZip(entries map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		fw, err := w.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := fw.Write(entries[name]); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
