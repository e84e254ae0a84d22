package watch

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shehryarbajwa/texbridge/internal/dispatch"
)

func TestGate(t *testing.T) {
	var g Gate
	tok := g.Token()
	if !g.Valid(tok) {
		t.Fatal("fresh token invalid")
	}
	g.Invalidate()
	if g.Valid(tok) {
		t.Error("token valid after invalidate")
	}
	if !g.Valid(g.Token()) {
		t.Error("new token invalid")
	}
}

func waitResult(t *testing.T, ch <-chan *dispatch.Result) *dispatch.Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a compile result")
		return nil
	}
}

func TestRecompilesOnChange(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "main.tex"), []byte("A"), 0o644)

	var runs atomic.Int32
	results := make(chan *dispatch.Result, 10)
	w := &Watcher{
		Root:     root,
		Exclude:  []string{"main.pdf"},
		Debounce: 20 * time.Millisecond,
		Logger:   log.New(io.Discard, "", 0),
		Compile: func(ctx context.Context) (*dispatch.Result, error) {
			n := runs.Add(1)
			return &dispatch.Result{Changed: int(n)}, nil
		},
		OnResult: func(res *dispatch.Result, err error) {
			// Writing the output must not trigger another compile.
			os.WriteFile(filepath.Join(root, "main.pdf"), []byte("%PDF"), 0o644)
			results <- res
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if first := waitResult(t, results); first.Changed != 1 {
		t.Fatalf("first result = %+v", first)
	}

	os.WriteFile(filepath.Join(root, "main.tex"), []byte("B"), 0o644)
	if second := waitResult(t, results); second.Changed != 2 {
		t.Fatalf("second result = %+v", second)
	}

	os.WriteFile(filepath.Join(root, "main.aux"), []byte("aux"), 0o644)
	time.Sleep(200 * time.Millisecond)
	if n := runs.Load(); n != 2 {
		t.Errorf("runs = %d, build products or output retriggered a compile", n)
	}
}

func TestStaleResultDiscarded(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "main.tex"), []byte("A"), 0o644)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var runs atomic.Int32
	results := make(chan *dispatch.Result, 10)
	w := &Watcher{
		Root:     root,
		Debounce: 20 * time.Millisecond,
		Logger:   log.New(io.Discard, "", 0),
		Compile: func(ctx context.Context) (*dispatch.Result, error) {
			n := runs.Add(1)
			if n == 1 {
				entered <- struct{}{}
				<-release
			}
			return &dispatch.Result{Changed: int(n)}, nil
		},
		OnResult: func(res *dispatch.Result, err error) {
			results <- res
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	<-entered
	os.WriteFile(filepath.Join(root, "main.tex"), []byte("B"), 0o644)
	// Let the change and its debounce land while the first run is blocked.
	time.Sleep(150 * time.Millisecond)
	close(release)

	if res := waitResult(t, results); res.Changed != 2 {
		t.Errorf("applied result = %+v, want the second run", res)
	}
	select {
	case extra := <-results:
		t.Errorf("unexpected extra result %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}
