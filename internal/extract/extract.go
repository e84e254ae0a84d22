// Package extract produces project snapshots, either from a whole-project
// archive or by walking a file tree and fetching files one by one.
package extract

import (
	"context"
	"encoding/base64"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// Extractor produces the full current file set of a project
type Extractor interface {
	Extract(ctx context.Context, projectID string) (*models.ProjectSnapshot, error)
}

// binaryExts is the one rule used everywhere to decide whether a file is
// carried as base64.
var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true, ".ico": true, ".eps": true,
	".pdf": true, ".ps": true, ".svgz": true,
	".zip": true, ".gz": true, ".tgz": true, ".tar": true,
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true, ".pfb": true,
	".mp3": true, ".mp4": true, ".wav": true, ".ogg": true,
	".xlsx": true, ".docx": true, ".pptx": true, ".xls": true, ".doc": true,
}

// IsBinary reports whether a project path is a binary file
func IsBinary(p string) bool {
	return binaryExts[strings.ToLower(path.Ext(p))]
}

// add files content under name. Binary extensions and text that is not
// valid UTF-8 go to BinaryFiles so JSON encoding cannot rewrite the bytes.
func add(snap *models.ProjectSnapshot, name string, content []byte) {
	if IsBinary(name) || !utf8.Valid(content) {
		snap.BinaryFiles[name] = base64.StdEncoding.EncodeToString(content)
		return
	}
	snap.Files[name] = string(content)
}

// CleanPath normalizes a project-relative path to forward slashes with no
// leading slash or dot segments. It returns "" for paths that would escape
// the project root.
func CleanPath(p string) string {
	s := strings.ReplaceAll(p, "\\", "/")
	if len(s) > 1 && s[1] == ':' {
		s = s[2:]
	}
	s = strings.TrimLeft(s, "/")
	cleaned := path.Clean("/" + s)
	if cleaned == "/" {
		return ""
	}
	for _, part := range strings.Split(s, "/") {
		if part == ".." {
			return ""
		}
	}
	return strings.TrimPrefix(cleaned, "/")
}
