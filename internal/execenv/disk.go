package execenv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joss/genie/internal/exec"
	"github.com/joss/genie/internal/fileset"
	"github.com/joss/genie/internal/logging"
	"github.com/joss/genie/internal/workspace"
)

// Disk writes the files into Dir and runs the entrypoint with bash on the
// host.
type Disk struct {
	Dir     string
	Runner  exec.Runner
	Timeout time.Duration
	Shell   string

	logger *logging.Logger
}

// NewDisk creates a host execution environment rooted at dir.
func NewDisk(dir string) *Disk {
	return &Disk{
		Dir:     dir,
		Runner:  exec.Default,
		Timeout: DefaultTimeout,
		Shell:   "bash",
		logger:  logging.New("execenv"),
	}
}

func (d *Disk) Execute(ctx context.Context, files *fileset.FileSet, entrypoint string) (RunResult, error) {
	entrypoint, err := checkEntrypoint(files, entrypoint)
	if err != nil {
		return RunResult{}, fmt.Errorf("entrypoint: %w", err)
	}

	ws, err := workspace.Open(d.Dir)
	if err != nil {
		return RunResult{}, err
	}
	if err := ws.Write(files, nil); err != nil {
		return RunResult{}, fmt.Errorf("write files: %w", err)
	}

	runCtx, cancel := withTimeout(ctx, d.Timeout)
	defer cancel()

	shell := d.Shell
	if shell == "" {
		shell = "bash"
	}
	if _, err := d.Runner.LookPath(shell); err != nil {
		return RunResult{}, fmt.Errorf("%s not available: %w", shell, err)
	}

	start := time.Now()
	stdout, stderr, runErr := d.Runner.RunSeparate(runCtx, ws.Root, nil, shell, entrypoint)
	res := RunResult{Stdout: stdout, Stderr: stderr, ExitCode: exec.ExitCode(runErr), Duration: time.Since(start)}

	extra := map[string]interface{}{"dir": ws.Root, "exit_code": res.ExitCode}
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		d.log().TimedEvent("entrypoint_run", start, extra, ErrTimeout)
		return res, fmt.Errorf("%s: %w", entrypoint, ErrTimeout)
	case ctx.Err() != nil:
		return res, ctx.Err()
	case runErr != nil && res.ExitCode < 0:
		d.log().TimedEvent("entrypoint_run", start, extra, runErr)
		return res, fmt.Errorf("run %s: %w", entrypoint, runErr)
	}
	d.log().TimedEvent("entrypoint_run", start, extra, nil)
	return res, nil
}

func (d *Disk) log() *logging.Logger {
	if d.logger == nil {
		d.logger = logging.New("execenv")
	}
	return d.logger
}
