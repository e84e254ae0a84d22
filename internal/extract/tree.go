package extract

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// DefaultFanOut is the number of concurrent file fetches in a tree walk
const DefaultFanOut = 5

// Entry is one file in a project tree
type Entry struct {
	Path string
	ID   string
}

// FileTree lists a project's files and fetches them individually
type FileTree interface {
	List(ctx context.Context) ([]Entry, error)
	Fetch(ctx context.Context, entry Entry) ([]byte, error)
}

// TreeExtractor walks a FileTree with bounded concurrency. A file that fails
// to fetch is logged and left out of the snapshot.
type TreeExtractor struct {
	Tree   FileTree
	FanOut int
	Logger *log.Logger
}

func NewTreeExtractor(tree FileTree) *TreeExtractor {
	return &TreeExtractor{Tree: tree, FanOut: DefaultFanOut}
}

func (e *TreeExtractor) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e *TreeExtractor) Extract(ctx context.Context, projectID string) (*models.ProjectSnapshot, error) {
	entries, err := e.Tree.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list project files: %w", err)
	}

	fanOut := e.FanOut
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}

	snap := models.NewSnapshot(projectID)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for _, entry := range entries {
		name := CleanPath(entry.Path)
		if name == "" {
			continue
		}
		g.Go(func() error {
			content, err := e.Tree.Fetch(gctx, entry)
			if err != nil {
				e.logger().Printf("⚠️ Skipping %s: %v", name, err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			add(snap, name, content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}
