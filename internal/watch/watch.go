// Package watch recompiles a project directory when its files change.
package watch

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shehryarbajwa/texbridge/internal/dispatch"
	"github.com/shehryarbajwa/texbridge/internal/extract"
)

// DefaultDebounce is the quiet period after the last change before a compile
const DefaultDebounce = 500 * time.Millisecond

// Gate tells whether a result still belongs to the current state of the
// project. Every change invalidates tokens taken before it.
type Gate struct {
	gen atomic.Uint64
}

func (g *Gate) Token() uint64 {
	return g.gen.Load()
}

func (g *Gate) Invalidate() {
	g.gen.Add(1)
}

func (g *Gate) Valid(token uint64) bool {
	return g.gen.Load() == token
}

// Watcher runs Compile once at start and again after every burst of
// changes. Compiles never overlap. A result is passed to OnResult only if
// no change happened while it was being produced.
type Watcher struct {
	Root     string
	Exclude  []string
	Debounce time.Duration
	Compile  func(ctx context.Context) (*dispatch.Result, error)
	OnResult func(*dispatch.Result, error)
	Logger   *log.Logger

	gate Gate
}

func (w *Watcher) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

type outcome struct {
	token  uint64
	result *dispatch.Result
	err    error
}

// Run watches until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	root, err := filepath.Abs(w.Root)
	if err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addTree(fw, root); err != nil {
		return err
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	done := make(chan outcome, 1)
	running, pending := false, false
	start := func() {
		running = true
		token := w.gate.Token()
		go func() {
			res, err := w.Compile(ctx)
			done <- outcome{token: token, result: res, err: err}
		}()
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	start()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(fw, root, event) {
				continue
			}
			w.gate.Invalidate()
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Stop()
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if running {
				pending = true
				continue
			}
			start()

		case out := <-done:
			running = false
			if w.gate.Valid(out.token) {
				if w.OnResult != nil {
					w.OnResult(out.result, out.err)
				}
			} else {
				w.logger().Printf("Discarding result of a compile superseded by newer changes")
			}
			if pending {
				pending = false
				start()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger().Printf("⚠️ Watcher error: %v", err)
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && extract.IgnoredDir(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}

// relevant filters out build products and excluded outputs, and starts
// watching directories created after Run began.
func (w *Watcher) relevant(fw *fsnotify.Watcher, root string, event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	rel, err := filepath.Rel(root, event.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if extract.IgnoredFile(rel) || extract.IgnoredDir(filepath.Base(event.Name)) {
		return false
	}
	for _, e := range w.Exclude {
		if e == rel {
			return false
		}
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(fw, event.Name); err != nil {
				w.logger().Printf("⚠️ Failed to watch new directory %s: %v", rel, err)
			}
		}
	}
	return true
}
