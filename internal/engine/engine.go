// Package engine runs TeX tools for the compile server, either as local
// processes or inside a TeX Live container.
package engine

import (
	"context"
	"fmt"
)

// Supported lists the LaTeX engines a server may offer
var Supported = []string{"pdflatex", "xelatex", "lualatex"}

// Runner executes one tool invocation with dir as working directory and
// returns its combined output. A tool that ran but exited non-zero returns
// its output together with an *ExitError.
type Runner interface {
	Run(ctx context.Context, dir, tool string, args ...string) (string, error)
	Has(ctx context.Context, tool string) bool
	Close() error
}

// ExitError is a tool that ran and exited with a non-zero status
type ExitError struct {
	Tool string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
}

// Available returns the supported engines the runner can execute
func Available(ctx context.Context, r Runner) []string {
	out := []string{}
	for _, eng := range Supported {
		if r.Has(ctx, eng) {
			out = append(out, eng)
		}
	}
	return out
}

// IsSupported reports whether name is one of the Supported engines
func IsSupported(name string) bool {
	for _, eng := range Supported {
		if eng == name {
			return true
		}
	}
	return false
}
