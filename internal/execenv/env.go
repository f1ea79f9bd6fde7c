// Package execenv runs a generated project's entrypoint script, either in a
// directory on the host or inside a throwaway Docker container.
package execenv

import (
	"context"
	"errors"
	"time"

	"github.com/joss/genie/internal/fileset"
)

// DefaultTimeout bounds a single entrypoint run.
const DefaultTimeout = 10 * time.Minute

// ErrTimeout is returned when the entrypoint outlives its timeout.
var ErrTimeout = errors.New("entrypoint timed out")

// RunResult is the outcome of one entrypoint execution.
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Success reports a zero exit code.
func (r RunResult) Success() bool { return r.ExitCode == 0 }

// Env executes files with the given entrypoint script. A non-zero exit code
// is reported in RunResult, not as an error.
type Env interface {
	Execute(ctx context.Context, files *fileset.FileSet, entrypoint string) (RunResult, error)
}

func checkEntrypoint(files *fileset.FileSet, entrypoint string) (string, error) {
	if entrypoint == "" {
		entrypoint = fileset.EntrypointPath
	}
	norm, err := fileset.NormalizePath(entrypoint)
	if err != nil {
		return "", err
	}
	if _, err := files.Lookup(norm); err != nil {
		return "", err
	}
	return norm, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
