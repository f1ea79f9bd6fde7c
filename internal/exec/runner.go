// Package exec provides a testable command execution abstraction.
package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	osexec "os/exec"
	"sync"
	"time"
)

// Runner defines the interface for executing external commands.
// Inject this instead of calling exec.Command directly.
type Runner interface {
	// RunSeparate executes name in dir (empty means the current directory)
	// with optional stdin and returns stdout and stderr separately.
	RunSeparate(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) (stdout, stderr []byte, err error)

	// LookPath reports where an executable lives.
	LookPath(name string) (string, error)
}

const waitDelay = 2 * time.Second

// OSRunner implements Runner using os/exec.
type OSRunner struct {
	// Env overrides environment variables (nil = inherit from parent)
	Env []string
}

// NewOSRunner creates a new OS-based command runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// RunSeparate executes and returns stdout and stderr separately.
func (r *OSRunner) RunSeparate(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) ([]byte, []byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = stdin
	// Children that inherit the pipes must not hold Wait open after a kill
	cmd.WaitDelay = waitDelay
	if r.Env != nil {
		cmd.Env = r.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// LookPath wraps os/exec.LookPath.
func (r *OSRunner) LookPath(name string) (string, error) {
	return osexec.LookPath(name)
}

// ExitCode extracts the process exit code from a Run error: 0 for nil,
// the status for *exec.ExitError, -1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// MockRunner implements Runner for testing.
type MockRunner struct {
	mu sync.Mutex

	// Calls records all command invocations
	Calls []MockCall

	// Responses maps command name to response
	Responses map[string]MockResponse

	// Missing lists commands LookPath should not find
	Missing map[string]bool
}

// MockCall records a single command invocation.
type MockCall struct {
	Name  string
	Args  []string
	Dir   string
	Stdin []byte
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
	// Echo returns stdin as stdout when set.
	Echo bool
}

// NewMockRunner creates a new mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		Responses: make(map[string]MockResponse),
		Missing:   make(map[string]bool),
	}
}

// AddResponse sets the response for a command name.
func (m *MockRunner) AddResponse(name string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[name] = resp
}

func (m *MockRunner) RunSeparate(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) ([]byte, []byte, error) {
	var in []byte
	if stdin != nil {
		in, _ = io.ReadAll(stdin)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Name: name, Args: args, Dir: dir, Stdin: in})
	resp := m.Responses[name]
	if resp.Echo {
		return in, resp.Stderr, resp.Err
	}
	return resp.Stdout, resp.Stderr, resp.Err
}

func (m *MockRunner) LookPath(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Missing[name] {
		return "", osexec.ErrNotFound
	}
	return "/usr/bin/" + name, nil
}

// Default is the runner used when none is injected.
var Default Runner = NewOSRunner()
