// Package diff parses unified diffs out of assistant replies and applies
// them to a file set with a tolerant, explicitly ordered matcher.
package diff

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DevNull marks the missing side of a create or delete.
const DevNull = "/dev/null"

// ErrOrphanHunk is reported for a hunk header with no file header above it.
var ErrOrphanHunk = errors.New("hunk without file header")

// OrphanHunkError locates a dropped hunk. It unwraps to ErrOrphanHunk.
type OrphanHunkError struct {
	Line int
}

func (e *OrphanHunkError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, ErrOrphanHunk)
}

func (e *OrphanHunkError) Unwrap() error { return ErrOrphanHunk }

// Hunk represents a single diff hunk. Lines keep their ' ', '-' or '+'
// prefix.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []string
}

// Old returns the lines the hunk expects to find.
func (h Hunk) Old() []string {
	var out []string
	for _, l := range h.Lines {
		if l[0] == ' ' || l[0] == '-' {
			out = append(out, l[1:])
		}
	}
	return out
}

// full reports whether the declared old and new counts are consumed.
func (h Hunk) full() bool {
	var o, n int
	for _, l := range h.Lines {
		switch l[0] {
		case ' ':
			o++
			n++
		case '-':
			o++
		case '+':
			n++
		}
	}
	return o >= h.OldCount && n >= h.NewCount
}

// New returns the lines the hunk leaves behind.
func (h Hunk) New() []string {
	var out []string
	for _, l := range h.Lines {
		if l[0] == ' ' || l[0] == '+' {
			out = append(out, l[1:])
		}
	}
	return out
}

// Stats counts added and removed lines.
func (h Hunk) Stats() (added, removed int) {
	for _, l := range h.Lines {
		switch l[0] {
		case '+':
			added++
		case '-':
			removed++
		}
	}
	return added, removed
}

// Patch is every hunk for one file.
type Patch struct {
	OldPath string
	NewPath string
	Hunks   []Hunk
}

// IsCreate reports a patch against /dev/null.
func (p Patch) IsCreate() bool { return p.OldPath == DevNull }

// IsDelete reports a patch whose target is /dev/null.
func (p Patch) IsDelete() bool { return p.NewPath == DevNull }

// Path is the file the patch leaves behind, or the deleted file.
func (p Patch) Path() string {
	if p.IsDelete() {
		return p.OldPath
	}
	return p.NewPath
}

// hunkHeader matches @@ -old_start,old_count +new_start,new_count @@
var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

func headerPath(line, marker, prefix string) string {
	p := strings.TrimSpace(strings.TrimPrefix(line, marker))
	if i := strings.IndexByte(p, '\t'); i >= 0 {
		p = p[:i]
	}
	p = strings.Trim(p, "\"")
	if p == DevNull {
		return p
	}
	return strings.TrimPrefix(p, prefix)
}

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

// Parse extracts every patch from text. Prose and fences between patches
// are ignored. A text without patches yields an empty slice.
//
// Hunks that cannot be attributed to a file are dropped and reported as
// *OrphanHunkError values joined into err; the returned patches are valid
// either way.
func Parse(text string) ([]Patch, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var patches []Patch
	var orphans []error
	var cur *Patch
	var hunk *Hunk

	closeHunk := func() {
		if hunk == nil {
			return
		}
		trimTrailingBlank(hunk)
		if len(hunk.Lines) > 0 {
			cur.Hunks = append(cur.Hunks, *hunk)
		}
		hunk = nil
	}
	closePatch := func() {
		closeHunk()
		if cur != nil && len(cur.Hunks) > 0 {
			patches = append(patches, *cur)
		}
		cur = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ") {
			closePatch()
			cur = &Patch{
				OldPath: headerPath(line, "--- ", "a/"),
				NewPath: headerPath(lines[i+1], "+++ ", "b/"),
			}
			i++
			continue
		}

		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			if cur == nil {
				orphans = append(orphans, &OrphanHunkError{Line: i + 1})
				continue
			}
			closeHunk()
			hunk = &Hunk{
				OldStart: atoi(m[1], 0),
				OldCount: atoi(m[2], 1),
				NewStart: atoi(m[3], 0),
				NewCount: atoi(m[4], 1),
			}
			continue
		}

		if hunk == nil {
			if isFence(line) {
				closePatch()
			}
			continue
		}
		switch {
		case line == "" && hunk.full() && !continues(lines[i+1:]):
			closeHunk()
		case line == "":
			hunk.Lines = append(hunk.Lines, " ")
		case line[0] == ' ' || line[0] == '-' || line[0] == '+':
			hunk.Lines = append(hunk.Lines, line)
		case line[0] == '\\':
			// "\ No newline at end of file"
		case isFence(line):
			closePatch()
		default:
			closeHunk()
		}
	}
	closePatch()
	return patches, errors.Join(orphans...)
}

// continues reports whether the first non-blank line of rest still reads as
// hunk content. Removal lines are not counted: past the declared range they
// are indistinguishable from markdown bullets.
func continues(rest []string) bool {
	for _, l := range rest {
		if l == "" {
			continue
		}
		return l[0] == ' ' || l[0] == '+'
	}
	return false
}

// trimTrailingBlank drops blank context lines past the declared old count;
// they are the gap between a hunk and the prose that follows it.
func trimTrailingBlank(h *Hunk) {
	for len(h.Lines) > 0 && h.Lines[len(h.Lines)-1] == " " && len(h.Old()) > h.OldCount {
		h.Lines = h.Lines[:len(h.Lines)-1]
	}
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
