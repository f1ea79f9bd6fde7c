// Package lint runs source formatters over a produced file set. Formatter
// failures never fail a step; they come back as warnings.
package lint

import (
	"bytes"
	"context"
	"fmt"
	"go/format"
	"path"
	"slices"
	"strings"

	"github.com/joss/genie/internal/exec"
	"github.com/joss/genie/internal/fileset"
	"github.com/joss/genie/internal/logging"
)

// Formatter rewrites one file.
type Formatter interface {
	Name() string
	Match(p string) bool
	Format(ctx context.Context, p string, src []byte) ([]byte, error)
}

// Warning records a formatter failure for one path.
type Warning struct {
	Path      string
	Formatter string
	Err       error
}

func (w *Warning) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", w.Path, w.Formatter, w.Err)
}

func (w *Warning) Unwrap() error { return w.Err }

// GoFormatter applies gofmt via go/format.
type GoFormatter struct{}

func (GoFormatter) Name() string { return "gofmt" }

func (GoFormatter) Match(p string) bool { return path.Ext(p) == ".go" }

func (GoFormatter) Format(_ context.Context, _ string, src []byte) ([]byte, error) {
	return format.Source(src)
}

// CommandFormatter pipes the file through an external tool: content on
// stdin, formatted content on stdout. "{path}" in Args is replaced by the
// file path.
type CommandFormatter struct {
	Tool   string
	Args   []string
	Exts   []string
	Runner exec.Runner
}

func (c *CommandFormatter) Name() string { return c.Tool }

func (c *CommandFormatter) Match(p string) bool {
	return slices.Contains(c.Exts, strings.ToLower(path.Ext(p)))
}

// Available reports whether the tool is installed.
func (c *CommandFormatter) Available() bool {
	_, err := c.runner().LookPath(c.Tool)
	return err == nil
}

func (c *CommandFormatter) Format(ctx context.Context, p string, src []byte) ([]byte, error) {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = strings.ReplaceAll(a, "{path}", p)
	}
	stdout, stderr, err := c.runner().RunSeparate(ctx, "", bytes.NewReader(src), c.Tool, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout, nil
}

func (c *CommandFormatter) runner() exec.Runner {
	if c.Runner == nil {
		return exec.Default
	}
	return c.Runner
}

// Black formats Python.
func Black(r exec.Runner) *CommandFormatter {
	return &CommandFormatter{Tool: "black", Args: []string{"-q", "-"}, Exts: []string{".py"}, Runner: r}
}

// Prettier formats web sources.
func Prettier(r exec.Runner) *CommandFormatter {
	return &CommandFormatter{
		Tool:   "prettier",
		Args:   []string{"--stdin-filepath", "{path}"},
		Exts:   []string{".js", ".jsx", ".ts", ".tsx", ".css", ".html", ".json"},
		Runner: r,
	}
}

// Linter applies the first matching formatter to each text file.
type Linter struct {
	formatters []Formatter
	logger     *logging.Logger
}

// New creates a linter. Command formatters whose tool is missing are
// dropped.
func New(formatters ...Formatter) *Linter {
	l := &Linter{logger: logging.New("lint")}
	for _, f := range formatters {
		if c, ok := f.(*CommandFormatter); ok && !c.Available() {
			l.logger.Debug("formatter_unavailable", map[string]interface{}{"tool": c.Tool})
			continue
		}
		l.formatters = append(l.formatters, f)
	}
	return l
}

// Default wires gofmt, black and prettier.
func Default(r exec.Runner) *Linter {
	return New(GoFormatter{}, Black(r), Prettier(r))
}

// Formatters lists the active formatter names.
func (l *Linter) Formatters() []string {
	names := make([]string, len(l.formatters))
	for i, f := range l.formatters {
		names[i] = f.Name()
	}
	return names
}

// Run returns a formatted copy of files. A failing formatter leaves that
// file unchanged and adds a warning.
func (l *Linter) Run(ctx context.Context, files *fileset.FileSet) (*fileset.FileSet, []*Warning) {
	out := files.Clone()
	var warnings []*Warning
	for _, p := range out.Paths() {
		f, _ := out.Get(p)
		if f.Binary {
			continue
		}
		for _, fm := range l.formatters {
			if !fm.Match(p) {
				continue
			}
			formatted, err := fm.Format(ctx, p, f.Data)
			if err != nil {
				w := &Warning{Path: p, Formatter: fm.Name(), Err: err}
				l.logger.Warn("format_failed", map[string]interface{}{"path": p, "formatter": fm.Name()}, err)
				warnings = append(warnings, w)
			} else if !bytes.Equal(formatted, f.Data) {
				out.Set(p, fileset.File{Data: formatted})
			}
			break
		}
	}
	return out, warnings
}
