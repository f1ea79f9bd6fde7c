// Package fileset holds the in-memory mapping from relative path to file
// content that every pipeline step reads and produces.
package fileset

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// EntrypointPath is reserved for the generated run script.
const EntrypointPath = "run.sh"

var (
	// ErrEmptyPath is returned for blank keys.
	ErrEmptyPath = errors.New("empty path")
	// ErrInvalidUTF8 is returned for text content that is not UTF-8.
	ErrInvalidUTF8 = errors.New("text content is not valid UTF-8")
	// ErrNotFound indicates the path is not in the set.
	ErrNotFound = errors.New("file not found")
)

// NotFoundError wraps ErrNotFound with the missing path.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// PathTraversalError reports a path that is absolute or leaves the root.
type PathTraversalError struct {
	Path string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("path escapes workspace root: %q", e.Path)
}

// File is one entry. Binary data is carried as raw bytes and never
// interpreted as text.
type File struct {
	Data   []byte
	Binary bool
}

// Text builds a text entry.
func Text(s string) File { return File{Data: []byte(s)} }

// String returns the content as text.
func (f File) String() string { return string(f.Data) }

// FileSet is an ordered path → content map. Insertion order is kept so that
// prompts and serialized output are stable. Not safe for concurrent
// mutation.
type FileSet struct {
	order []string
	files map[string]File
}

// New creates an empty set.
func New() *FileSet {
	return &FileSet{files: make(map[string]File)}
}

// FromMap builds a set from text contents, ordered by the keys slice.
func FromMap(keys []string, contents map[string]string) *FileSet {
	fs := New()
	for _, k := range keys {
		fs.Set(k, Text(contents[k]))
	}
	return fs
}

// NormalizePath converts p to the canonical relative form. Absolute paths
// and paths that climb out of the root return a *PathTraversalError.
func NormalizePath(p string) (string, error) {
	orig := p
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", ErrEmptyPath
	}
	if strings.HasPrefix(p, "/") || (len(p) > 1 && p[1] == ':') {
		return "", &PathTraversalError{Path: orig}
	}
	p = path.Clean(p)
	if p == "." {
		return "", ErrEmptyPath
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", &PathTraversalError{Path: orig}
	}
	return p, nil
}

// Set stores f under p. An existing path keeps its position.
func (fs *FileSet) Set(p string, f File) {
	if _, ok := fs.files[p]; !ok {
		fs.order = append(fs.order, p)
	}
	fs.files[p] = f
}

// Get returns the entry at p.
func (fs *FileSet) Get(p string) (File, bool) {
	f, ok := fs.files[p]
	return f, ok
}

// Lookup is Get with a *NotFoundError for missing paths.
func (fs *FileSet) Lookup(p string) (File, error) {
	f, ok := fs.files[p]
	if !ok {
		return File{}, &NotFoundError{Path: p}
	}
	return f, nil
}

// Has reports whether p is present.
func (fs *FileSet) Has(p string) bool {
	_, ok := fs.files[p]
	return ok
}

// Delete removes p. It reports whether p was present.
func (fs *FileSet) Delete(p string) bool {
	if _, ok := fs.files[p]; !ok {
		return false
	}
	delete(fs.files, p)
	for i, k := range fs.order {
		if k == p {
			fs.order = append(fs.order[:i], fs.order[i+1:]...)
			break
		}
	}
	return true
}

// Paths returns the keys in insertion order.
func (fs *FileSet) Paths() []string {
	return append([]string(nil), fs.order...)
}

// Len is the number of entries.
func (fs *FileSet) Len() int { return len(fs.order) }

// Clone returns a deep copy.
func (fs *FileSet) Clone() *FileSet {
	out := &FileSet{
		order: append([]string(nil), fs.order...),
		files: make(map[string]File, len(fs.files)),
	}
	for k, f := range fs.files {
		out.files[k] = File{Data: bytes.Clone(f.Data), Binary: f.Binary}
	}
	return out
}

// Equal compares contents and binary tags. Order is ignored.
func (fs *FileSet) Equal(other *FileSet) bool {
	if fs.Len() != other.Len() {
		return false
	}
	for k, f := range fs.files {
		g, ok := other.files[k]
		if !ok || f.Binary != g.Binary || !bytes.Equal(f.Data, g.Data) {
			return false
		}
	}
	return true
}

// Merge overrides entries by path with those of other. New paths are
// appended in other's order.
func (fs *FileSet) Merge(other *FileSet) {
	for _, k := range other.order {
		fs.Set(k, other.files[k])
	}
}

// Validate checks every key and every text value.
func (fs *FileSet) Validate() error {
	var errs []error
	for _, k := range fs.order {
		norm, err := NormalizePath(k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if norm != k {
			errs = append(errs, fmt.Errorf("path %q is not normalized (want %q)", k, norm))
		}
		if f := fs.files[k]; !f.Binary && !utf8.Valid(f.Data) {
			errs = append(errs, fmt.Errorf("%s: %w", k, ErrInvalidUTF8))
		}
	}
	return errors.Join(errs...)
}
