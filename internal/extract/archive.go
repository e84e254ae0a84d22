package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// maxArchiveSize bounds archive downloads
const maxArchiveSize = 512 << 20

// ArchiveSource fetches a zip of a whole project
type ArchiveSource interface {
	Fetch(ctx context.Context, projectID string) ([]byte, error)
}

// ArchiveExtractor downloads one archive and decodes it client-side. It
// fails as a whole if the archive cannot be fetched or read.
type ArchiveExtractor struct {
	Source ArchiveSource
}

func NewArchiveExtractor(source ArchiveSource) *ArchiveExtractor {
	return &ArchiveExtractor{Source: source}
}

func (e *ArchiveExtractor) Extract(ctx context.Context, projectID string) (*models.ProjectSnapshot, error) {
	data, err := e.Source.Fetch(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to download project archive: %w", err)
	}
	return FromZip(projectID, data)
}

// FromZip decodes a zip archive into a snapshot. Directory entries are
// skipped and entry names are normalized.
func FromZip(projectID string, data []byte) (*models.ProjectSnapshot, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid project archive: %w", err)
	}

	snap := models.NewSnapshot(projectID)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		name := CleanPath(f.Name)
		if name == "" {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s in archive: %w", f.Name, err)
		}

		add(snap, name, content)
	}
	return snap, nil
}

// HTTPSource downloads the archive from the host platform's project
// download route using the caller's session cookie.
type HTTPSource struct {
	BaseURL    string
	Cookie     string
	HTTPClient *http.Client
}

func NewHTTPSource(baseURL, cookie string) *HTTPSource {
	return &HTTPSource{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Cookie:     cookie,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, projectID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/project/%s/download/zip", s.BaseURL, url.PathEscape(projectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if s.Cookie != "" {
		req.Header.Set("Cookie", s.Cookie)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxArchiveSize {
		return nil, errors.New("project archive too large")
	}
	return data, nil
}

// FileSource reads an archive already on disk
type FileSource struct {
	Path string
}

func (s FileSource) Fetch(ctx context.Context, projectID string) ([]byte, error) {
	return os.ReadFile(s.Path)
}
