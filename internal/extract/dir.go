package extract

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxTreeFileSize is the largest file a DirTree will offer (64 MB)
const maxTreeFileSize = 64 << 20

var ignoredDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	".texbridge":   true,
	"node_modules": true,
	"_minted":      true,
}

// ignoredExts are LaTeX build products that must not be sent back to the
// compiler.
var ignoredExts = map[string]bool{
	".aux": true, ".log": true, ".out": true, ".toc": true, ".fls": true,
	".fdb_latexmk": true, ".bbl": true, ".blg": true,
}

// IgnoredDir reports whether a directory name is never part of a project
func IgnoredDir(name string) bool {
	return ignoredDirs[name]
}

// IgnoredFile reports whether a file is a build product
func IgnoredFile(name string) bool {
	return ignoredExts[filepath.Ext(name)] || strings.HasSuffix(name, ".synctex.gz")
}

// DirTree is a FileTree over a local directory. Exclude lists
// root-relative slash paths left out of the listing, such as the PDF the
// compile writes back into the project.
type DirTree struct {
	Root    string
	Exclude []string
}

func (t DirTree) excluded(rel string) bool {
	for _, e := range t.Exclude {
		if e == rel {
			return true
		}
	}
	return false
}

func (t DirTree) List(ctx context.Context) ([]Entry, error) {
	root, err := filepath.Abs(t.Root)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != root && IgnoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || IgnoredFile(p) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxTreeFileSize {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || t.excluded(filepath.ToSlash(rel)) {
			return nil
		}
		entries = append(entries, Entry{Path: filepath.ToSlash(rel), ID: p})
		return nil
	})
	return entries, err
}

func (t DirTree) Fetch(ctx context.Context, entry Entry) ([]byte, error) {
	return os.ReadFile(entry.ID)
}
