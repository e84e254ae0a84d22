package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
)

// ExecRunner runs tools from the local TeX installation
type ExecRunner struct {
	// Env is appended to the process environment
	Env []string
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{Env: []string{
		"TEXMFVAR=" + os.TempDir() + "/texmf-var",
		"MIKTEX_ENABLEINSTALLER=t",
	}}
}

func (r *ExecRunner) Run(ctx context.Context, dir, tool string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.Env...)

	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return string(out), &ExitError{Tool: tool, Code: exitErr.ExitCode()}
	}
	if ctx.Err() != nil {
		return string(out), ctx.Err()
	}
	return string(out), err
}

func (r *ExecRunner) Has(ctx context.Context, tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}

func (r *ExecRunner) Close() error {
	return nil
}
