// Package compile runs the LaTeX pipeline inside a project workspace.
package compile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/texbridge/internal/engine"
)

const (
	DefaultEngine  = "pdflatex"
	DefaultBibTeX  = "bibtex"
	DefaultTimeout = 300 * time.Second

	// LogTail is how much of the engine output a failure carries
	LogTail = 5000

	maxReruns = 2
	rerunHint = "Rerun to get cross-references right"
)

// Config tunes the pipeline
type Config struct {
	DefaultEngine string
	BibTeX        string
	Timeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultEngine == "" {
		c.DefaultEngine = DefaultEngine
	}
	if c.BibTeX == "" {
		c.BibTeX = DefaultBibTeX
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Result is a successful compile
type Result struct {
	PDF    []byte
	Log    string
	Engine string
	Passes int
}

// Failure is a compile that ran but produced no PDF
type Failure struct {
	Log string
}

func (f *Failure) Error() string {
	return "compilation failed"
}

// Service compiles workspaces. At most one compile runs per workspace;
// later requests wait their turn.
type Service struct {
	runner engine.Runner
	cfg    Config
	Logger *log.Logger

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func NewService(runner engine.Runner, cfg Config) *Service {
	return &Service{
		runner: runner,
		cfg:    cfg.withDefaults(),
		locks:  make(map[string]*semaphore.Weighted),
	}
}

func (s *Service) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// Config returns the effective configuration
func (s *Service) Config() Config {
	return s.cfg
}

// Engines lists the engines the backend can run
func (s *Service) Engines(ctx context.Context) []string {
	return engine.Available(ctx, s.runner)
}

// Lock blocks until the workspace key is free and returns its release func
func (s *Service) Lock(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	sem, ok := s.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.locks[key] = sem
	}
	s.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// ResolveEngine maps a requested engine to one the pipeline will run
func (s *Service) ResolveEngine(name string) string {
	if engine.IsSupported(name) {
		return name
	}
	if name != "" {
		s.logger().Printf("⚠️  Unknown engine %q, using %s", name, s.cfg.DefaultEngine)
	}
	return s.cfg.DefaultEngine
}

// Compile builds mainFile (relative to dir) and returns the PDF. A compile
// that produced no PDF returns *Failure carrying the log.
func (s *Service) Compile(ctx context.Context, dir, mainFile, engineName string) (*Result, error) {
	eng := s.ResolveEngine(engineName)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	mainPath := filepath.Join(dir, filepath.FromSlash(mainFile))
	workDir := filepath.Dir(mainPath)
	base := strings.TrimSuffix(filepath.Base(mainPath), filepath.Ext(mainPath))
	pdfPath := filepath.Join(workDir, base+".pdf")
	os.Remove(pdfPath)

	args := []string{"-interaction=nonstopmode", "-file-line-error", filepath.Base(mainPath)}

	var output strings.Builder
	passes := 0
	run := func(tool string, args ...string) (string, error) {
		out, err := s.runner.Run(ctx, workDir, tool, args...)
		output.WriteString(out)
		return out, err
	}

	start := time.Now()
	out, err := run(eng, args...)
	passes++
	if s.timedOut(ctx, err) {
		return nil, s.timeoutFailure(&output)
	}

	needRerun := false
	if s.needsBibTeX(filepath.Join(workDir, base+".aux")) && s.runner.Has(ctx, s.cfg.BibTeX) {
		if _, err := run(s.cfg.BibTeX, base); s.timedOut(ctx, err) {
			return nil, s.timeoutFailure(&output)
		}
		needRerun = true
	}

	for i := 0; i < maxReruns && (needRerun || strings.Contains(out, rerunHint)); i++ {
		needRerun = false
		out, err = run(eng, args...)
		passes++
		if s.timedOut(ctx, err) {
			return nil, s.timeoutFailure(&output)
		}
	}

	pdf, readErr := os.ReadFile(pdfPath)
	if readErr != nil {
		if err != nil && !isExit(err) {
			output.WriteString("\n" + err.Error())
		}
		return nil, &Failure{Log: Tail(output.String(), LogTail)}
	}

	s.logger().Printf("🔨 Compiled %s with %s in %s (%d passes, %s)",
		mainFile, eng, time.Since(start).Round(time.Millisecond), passes, humanize.Bytes(uint64(len(pdf))))
	return &Result{PDF: pdf, Log: output.String(), Engine: eng, Passes: passes}, nil
}

func (s *Service) timedOut(ctx context.Context, err error) bool {
	return err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func (s *Service) timeoutFailure(output *strings.Builder) error {
	fmt.Fprintf(output, "\nTimeout (%ds) expired.", int(s.cfg.Timeout.Seconds()))
	return &Failure{Log: Tail(output.String(), LogTail)}
}

func (s *Service) needsBibTeX(auxPath string) bool {
	data, err := os.ReadFile(auxPath)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), `\citation`) || strings.Contains(string(data), `\bibdata`)
}

func isExit(err error) bool {
	var exitErr *engine.ExitError
	return errors.As(err, &exitErr)
}

// Tail returns the last n bytes of s
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
