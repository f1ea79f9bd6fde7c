package agent

import (
	"fmt"
	"strings"

	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/fileset"
)

// WarningKind classifies a non-fatal problem.
type WarningKind string

const (
	WarnParse      WarningKind = "parse"
	WarnTraversal  WarningKind = "path_traversal"
	WarnPatch      WarningKind = "patch"
	WarnSkipped    WarningKind = "skipped_hunk"
	WarnFormat     WarningKind = "format"
	WarnEntrypoint WarningKind = "entrypoint"
	WarnEmpty      WarningKind = "empty_response"
)

// Warning is something dropped or degraded along the way.
type Warning struct {
	Kind    WarningKind
	Path    string
	Message string
	Err     error
}

func (w Warning) String() string {
	var sb strings.Builder
	sb.WriteString(string(w.Kind))
	if w.Path != "" {
		fmt.Fprintf(&sb, " %s", w.Path)
	}
	if w.Message != "" {
		fmt.Fprintf(&sb, ": %s", w.Message)
	}
	return sb.String()
}

// Result is what a workflow produced. On failure it still carries the
// partial file set, the warnings and the usage so far.
type Result struct {
	Files    *fileset.FileSet
	Deleted  []string
	Warnings []Warning
	History  []State
	Usage    domain.TokenUsage
	// Reply is the raw text of the last generate or improve reply.
	Reply string
}

func newResult() *Result {
	return &Result{Files: fileset.New()}
}

func (r *Result) warn(w Warning) {
	r.Warnings = append(r.Warnings, w)
}

// Final returns the terminal state reached.
func (r *Result) Final() State {
	if len(r.History) == 0 {
		return StateIdle
	}
	return r.History[len(r.History)-1]
}

// HasWarnings reports whether anything was dropped or degraded.
func (r *Result) HasWarnings() bool { return len(r.Warnings) > 0 }

// WarningsOf filters warnings by kind.
func (r *Result) WarningsOf(kind WarningKind) []Warning {
	var out []Warning
	for _, w := range r.Warnings {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}
