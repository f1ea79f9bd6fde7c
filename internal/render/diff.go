package render

import (
	"sort"
	"strings"

	"github.com/joss/genie/internal/fileset"
	"github.com/pmezard/go-difflib/difflib"
)

const diffContext = 3

// UnifiedDiff renders the changes from before to after, one file at a time
// in path order. Binary files are summarized.
func UnifiedDiff(before, after *fileset.FileSet) (string, error) {
	paths := map[string]bool{}
	for _, p := range before.Paths() {
		paths[p] = true
	}
	for _, p := range after.Paths() {
		paths[p] = true
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var sb strings.Builder
	for _, p := range sorted {
		a, inA := before.Get(p)
		b, inB := after.Get(p)
		if inA && inB && a.Binary == b.Binary && string(a.Data) == string(b.Data) {
			continue
		}
		if a.Binary || b.Binary {
			sb.WriteString("Binary file " + p + " changed\n")
			continue
		}
		from, to := "a/"+p, "b/"+p
		if !inA {
			from = "/dev/null"
		}
		if !inB {
			to = "/dev/null"
		}
		out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        lines(a, inA),
			B:        lines(b, inB),
			FromFile: from,
			ToFile:   to,
			Context:  diffContext,
		})
		if err != nil {
			return "", err
		}
		sb.WriteString(out)
	}
	return sb.String(), nil
}

func lines(f fileset.File, ok bool) []string {
	if !ok {
		return nil
	}
	return difflib.SplitLines(f.String())
}

// ColorDiff colors added and removed lines.
func ColorDiff(d string) string {
	out := strings.SplitAfter(d, "\n")
	for i, l := range out {
		switch {
		case strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "---"):
			out[i] = bold(l)
		case strings.HasPrefix(l, "@@"):
			out[i] = cyan(l)
		case strings.HasPrefix(l, "+"):
			out[i] = green(l)
		case strings.HasPrefix(l, "-"):
			out[i] = red(l)
		}
	}
	return strings.Join(out, "")
}
