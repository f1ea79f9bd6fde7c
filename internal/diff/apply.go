package diff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joss/genie/internal/fileset"
)

// PatchApplyError reports one hunk that could not be placed. Hunk is
// 1-based within its patch; zero means the whole patch.
type PatchApplyError struct {
	Path   string
	Hunk   int
	Reason string
}

func (e *PatchApplyError) Error() string {
	if e.Hunk == 0 {
		return fmt.Sprintf("%s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: hunk %d: %s", e.Path, e.Hunk, e.Reason)
}

// Action is what happened to a file.
type Action string

const (
	ActionModify Action = "modify"
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
	ActionNone   Action = "none"
)

// FileReport summarizes one path.
type FileReport struct {
	Path    string
	Action  Action
	Applied int
	Skipped int
	Added   int
	Removed int
	Errors  []*PatchApplyError
}

// Failed reports whether the file was left untouched because of errors.
func (f FileReport) Failed() bool { return len(f.Errors) > 0 }

// Report is the outcome of Apply.
type Report struct {
	Files []FileReport
}

// Err joins every hunk failure, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, f := range r.Files {
		for _, e := range f.Errors {
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}

// AllFailed reports whether there was something to apply and nothing applied.
func (r Report) AllFailed() bool {
	if len(r.Files) == 0 {
		return false
	}
	for _, f := range r.Files {
		if !f.Failed() {
			return false
		}
	}
	return true
}

// Changed lists the paths that were written or deleted.
func (r Report) Changed() []string {
	var out []string
	for _, f := range r.Files {
		if !f.Failed() && f.Action != ActionNone {
			out = append(out, f.Path)
		}
	}
	return out
}

// Apply runs the patches against a copy of base. Files are all-or-nothing:
// a file with any failed hunk keeps its base content. Other files still
// apply.
func Apply(base *fileset.FileSet, patches []Patch) (*fileset.FileSet, Report) {
	out := base.Clone()
	var report Report

	var order []string
	byPath := make(map[string][]Patch)
	var invalid []FileReport
	for _, p := range patches {
		key, err := fileset.NormalizePath(p.Path())
		if err != nil {
			invalid = append(invalid, FileReport{
				Path:   p.Path(),
				Action: ActionNone,
				Errors: []*PatchApplyError{{Path: p.Path(), Reason: err.Error()}},
			})
			continue
		}
		if _, ok := byPath[key]; !ok {
			order = append(order, key)
		}
		byPath[key] = append(byPath[key], p)
	}

	for _, key := range order {
		report.Files = append(report.Files, applyFile(out, key, byPath[key]))
	}
	report.Files = append(report.Files, invalid...)
	return out, report
}

type working struct {
	lines  []string
	exists bool
	eol    bool
}

func load(fs *fileset.FileSet, p string) (working, error) {
	f, ok := fs.Get(p)
	if !ok {
		return working{eol: true}, nil
	}
	if f.Binary {
		return working{}, errors.New("cannot patch a binary file")
	}
	s := f.String()
	w := working{exists: true, eol: strings.HasSuffix(s, "\n") || s == ""}
	s = strings.TrimSuffix(s, "\n")
	if s != "" || len(f.Data) > 0 {
		w.lines = strings.Split(s, "\n")
	}
	return w, nil
}

func applyFile(fs *fileset.FileSet, key string, patches []Patch) FileReport {
	rep := FileReport{Path: key, Action: ActionModify}
	fail := func(hunk int, reason string) {
		rep.Errors = append(rep.Errors, &PatchApplyError{Path: key, Hunk: hunk, Reason: reason})
	}

	w, err := load(fs, key)
	if err != nil {
		fail(0, err.Error())
		return rep
	}
	var renamedFrom string

	for _, p := range patches {
		if p.IsDelete() {
			if !w.exists {
				fail(0, "delete of a file that does not exist")
				continue
			}
			w.lines, w.exists = nil, false
			rep.Action = ActionDelete
			continue
		}

		if !w.exists && !p.IsCreate() && p.OldPath != p.NewPath {
			if src, err := fileset.NormalizePath(p.OldPath); err == nil && fs.Has(src) {
				if w, err = load(fs, src); err != nil {
					fail(0, err.Error())
					continue
				}
				renamedFrom = src
			}
		}
		if !w.exists {
			if !additionsOnly(p) {
				fail(0, "file does not exist")
				continue
			}
			rep.Action = ActionCreate
		}

		drift := 0
		for i, h := range p.Hunks {
			res, err := applyHunk(w.lines, h, drift)
			if err != nil {
				fail(i+1, err.Error())
				continue
			}
			w.lines, drift = res.lines, res.drift
			if res.skipped {
				rep.Skipped++
				continue
			}
			rep.Applied++
			a, r := h.Stats()
			rep.Added += a
			rep.Removed += r
		}
		w.exists = true
	}

	if rep.Failed() {
		return rep
	}
	if rep.Applied == 0 && rep.Action == ActionModify {
		rep.Action = ActionNone
		return rep
	}

	if renamedFrom != "" && renamedFrom != key {
		fs.Delete(renamedFrom)
	}
	if rep.Action == ActionDelete || len(w.lines) == 0 {
		fs.Delete(key)
		rep.Action = ActionDelete
		return rep
	}
	content := strings.Join(w.lines, "\n")
	if w.eol {
		content += "\n"
	}
	fs.Set(key, fileset.Text(content))
	return rep
}

func additionsOnly(p Patch) bool {
	for _, h := range p.Hunks {
		if len(h.Old()) > 0 {
			return false
		}
	}
	return true
}

type hunkResult struct {
	lines   []string
	drift   int
	skipped bool
}

// applyHunk places one hunk. Matching order: the stated offset adjusted by
// drift, then a unique exact match anywhere, then a unique match ignoring
// leading and trailing whitespace.
func applyHunk(lines []string, h Hunk, drift int) (hunkResult, error) {
	oldL, newL := h.Old(), h.New()
	origin := h.OldStart - 1
	if len(oldL) == 0 {
		// Pure insertion goes after line OldStart.
		origin = h.OldStart
	}
	want := origin + drift

	if len(oldL) == 0 {
		pos := clamp(want, 0, len(lines))
		if len(newL) > 0 && matchAt(lines, newL, pos, exact) {
			return hunkResult{lines: lines, drift: pos - origin + len(newL), skipped: true}, nil
		}
		return hunkResult{lines: splice(lines, pos, 0, newL), drift: pos - origin + len(newL)}, nil
	}

	pos, err := locate(lines, oldL, want)
	if err != nil {
		return hunkResult{}, err
	}
	if pos < 0 {
		if q, _ := locate(lines, newL, want); q >= 0 && len(newL) > 0 {
			return hunkResult{lines: lines, drift: q - origin + len(newL) - len(oldL), skipped: true}, nil
		}
		return hunkResult{}, fmt.Errorf("context not found near line %d", h.OldStart)
	}
	if len(newL) > len(oldL) && matchAt(lines, newL, pos, exact) {
		return hunkResult{lines: lines, drift: pos - origin + len(newL) - len(oldL), skipped: true}, nil
	}
	return hunkResult{
		lines: splice(lines, pos, len(oldL), newL),
		drift: pos - origin + len(newL) - len(oldL),
	}, nil
}

// locate returns the position of needle, -1 when absent, or an error when
// it matches in more than one place.
func locate(lines, needle []string, want int) (int, error) {
	if len(needle) == 0 {
		return -1, nil
	}
	if want >= 0 && matchAt(lines, needle, want, exact) {
		return want, nil
	}
	for _, eq := range []func(a, b string) bool{exact, trimmed} {
		found := findAll(lines, needle, eq)
		switch len(found) {
		case 0:
			continue
		case 1:
			return found[0], nil
		default:
			return -1, fmt.Errorf("ambiguous context: %d matches", len(found))
		}
	}
	return -1, nil
}

func exact(a, b string) bool { return a == b }

func trimmed(a, b string) bool { return strings.TrimSpace(a) == strings.TrimSpace(b) }

func matchAt(lines, needle []string, pos int, eq func(a, b string) bool) bool {
	if pos < 0 || pos+len(needle) > len(lines) {
		return false
	}
	for i, n := range needle {
		if !eq(lines[pos+i], n) {
			return false
		}
	}
	return true
}

func findAll(lines, needle []string, eq func(a, b string) bool) []int {
	var out []int
	for i := 0; i+len(needle) <= len(lines); i++ {
		if matchAt(lines, needle, i, eq) {
			out = append(out, i)
		}
	}
	return out
}

func splice(lines []string, pos, n int, repl []string) []string {
	out := make([]string, 0, len(lines)-n+len(repl))
	out = append(out, lines[:pos]...)
	out = append(out, repl...)
	out = append(out, lines[pos+n:]...)
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
