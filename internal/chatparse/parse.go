// Package chatparse turns assistant replies into file sets.
//
// A reply is a sequence of blocks, each a path line followed by a fenced
// body. Everything outside blocks is prose and is ignored.
package chatparse

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/joss/genie/internal/fileset"
)

// ParseWarning describes a block that was skipped or only partly read.
type ParseWarning struct {
	Line   int
	Path   string
	Reason string
	Err    error
}

func (w ParseWarning) String() string {
	if w.Path != "" {
		return fmt.Sprintf("line %d (%s): %s", w.Line, w.Path, w.Reason)
	}
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}

// Result is the outcome of Parse.
type Result struct {
	Files    *fileset.FileSet
	Warnings []ParseWarning
}

type fence struct {
	ticks int
	info  string
}

// openingFence reports whether line opens a block.
func openingFence(line string) (fence, bool) {
	s := strings.TrimSpace(line)
	n := 0
	for n < len(s) && s[n] == '`' {
		n++
	}
	if n < 3 {
		return fence{}, false
	}
	info := strings.TrimSpace(s[n:])
	if strings.Contains(info, "`") {
		return fence{}, false
	}
	return fence{ticks: n, info: info}, true
}

// closes reports whether line is a bare fence at least as long as f.
func (f fence) closes(line string) bool {
	s := strings.TrimSpace(line)
	return len(s) >= f.ticks && strings.Trim(s, "`") == ""
}

func (f fence) has(attr string) bool {
	for _, field := range strings.Fields(f.info) {
		if field == attr {
			return true
		}
	}
	return false
}

// CleanMarker strips markdown decoration from a path line. ok is false when
// the line reads as prose rather than a path.
func CleanMarker(line string) (string, bool) {
	return fileset.ParseMarker(line)
}

type block struct {
	path       string
	line       int
	fence      fence
	body       []string
	terminated bool
}

// Parse extracts every path-marked block from text. Blocks without a usable
// path are reported as warnings; a path that escapes the root is reported
// with a *fileset.PathTraversalError and the rest of the reply still parses.
func Parse(text string) Result {
	res := Result{Files: fileset.New()}
	lines := strings.Split(text, "\n")

	var blocks []block
	var cur *block
	prev, prevLine := "", 0

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if cur != nil {
			if cur.fence.closes(line) {
				cur.terminated = true
				blocks = append(blocks, *cur)
				cur = nil
				prev = ""
				continue
			}
			// A marker followed by a same-length fence with an info string
			// means the model forgot to close the current block.
			if i+1 < len(lines) {
				if next, ok := openingFence(lines[i+1]); ok && next.ticks == cur.fence.ticks && next.info != "" {
					if _, isPath := CleanMarker(line); isPath {
						blocks = append(blocks, *cur)
						cur = nil
						prev, prevLine = line, i+1
						continue
					}
				}
			}
			cur.body = append(cur.body, line)
			continue
		}

		if f, ok := openingFence(line); ok {
			cur = &block{line: i + 1, fence: f}
			if prev != "" {
				cur.path = prev
				cur.line = prevLine
			}
			continue
		}
		if strings.TrimSpace(line) != "" {
			prev, prevLine = line, i+1
		}
	}
	if cur != nil {
		blocks = append(blocks, *cur)
	}

	seen := make(map[string]int)
	for _, b := range blocks {
		res.add(b, seen)
	}
	return res
}

func (r *Result) warn(line int, p, reason string, err error) {
	r.Warnings = append(r.Warnings, ParseWarning{Line: line, Path: p, Reason: reason, Err: err})
}

func (r *Result) add(b block, seen map[string]int) {
	if !b.terminated {
		r.warn(b.line, b.path, "unterminated block, keeping partial content", nil)
	}
	if b.path == "" {
		r.warn(b.line, "", "code block without a file path", nil)
		return
	}
	raw, ok := CleanMarker(b.path)
	if !ok {
		r.warn(b.line, raw, "code block follows prose instead of a file path", nil)
		return
	}
	p, err := fileset.NormalizePath(raw)
	if err != nil {
		var pte *fileset.PathTraversalError
		if errors.As(err, &pte) {
			r.warn(b.line, raw, "path escapes workspace root", err)
		} else {
			r.warn(b.line, raw, err.Error(), err)
		}
		return
	}

	var f fileset.File
	if b.fence.has(fileset.AttrBinary) {
		data, err := base64.StdEncoding.DecodeString(strings.Join(b.body, ""))
		if err != nil {
			r.warn(b.line, p, "invalid base64 in binary block", err)
			return
		}
		f = fileset.File{Data: data, Binary: true}
	} else {
		content := strings.Join(b.body, "\n")
		if !b.fence.has(fileset.AttrNoEOL) {
			content += "\n"
		}
		f = fileset.Text(content)
	}

	if first, dup := seen[p]; dup {
		r.warn(first, p, fmt.Sprintf("duplicate block, replaced by line %d", b.line), nil)
	}
	seen[p] = b.line
	r.Files.Set(p, f)
}

// ExtractCodeBlocks returns the bodies of all fenced blocks in order,
// regardless of path markers.
func ExtractCodeBlocks(text string) []string {
	var out []string
	var cur *block
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if cur == nil {
			if f, ok := openingFence(line); ok {
				cur = &block{fence: f}
			}
			continue
		}
		if cur.fence.closes(line) {
			out = append(out, strings.Join(cur.body, "\n"))
			cur = nil
			continue
		}
		cur.body = append(cur.body, line)
	}
	if cur != nil && len(cur.body) > 0 {
		out = append(out, strings.Join(cur.body, "\n"))
	}
	return out
}
