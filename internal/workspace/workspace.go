// Package workspace maps a project directory on disk to file sets, prompts
// and the .genie metadata tree.
package workspace

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/fileset"
)

const (
	// MetaDir holds everything genie keeps inside a project.
	MetaDir = ".genie"
	// PromptFile is the default prompt file name at the project root.
	PromptFile = "prompt"

	sniffLen = 8000
)

// DefaultExclude lists globs never loaded as project files.
var DefaultExclude = []string{
	MetaDir + "/**",
	".git/**",
	"**/node_modules/**",
	"**/__pycache__/**",
	"**/.venv/**",
}

// Workspace is a project root on disk.
type Workspace struct {
	Root string
}

// Open resolves root, creating it when absent.
func Open(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat workspace: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("workspace %s is not a directory", abs)
	}
	return &Workspace{Root: abs}, nil
}

// MetaPath is <root>/.genie.
func (w *Workspace) MetaPath() string { return filepath.Join(w.Root, MetaDir) }

// MemoryDir is <root>/.genie/memory, the parent of the log store.
func (w *Workspace) MemoryDir() string { return filepath.Join(w.MetaPath(), "memory") }

// PrepromptsDir holds per-project template overrides.
func (w *Workspace) PrepromptsDir() string { return filepath.Join(w.MetaPath(), "preprompts") }

// LoadOptions selects which files Load reads.
type LoadOptions struct {
	// Include globs (doublestar syntax). Empty means everything.
	Include []string
	// Exclude globs, applied after Include and in addition to DefaultExclude.
	Exclude []string
	// MaxFileSize skips larger files when > 0.
	MaxFileSize int64
}

func (o LoadOptions) keep(rel string) (bool, error) {
	for _, pat := range append(append([]string(nil), DefaultExclude...), o.Exclude...) {
		ok, err := doublestar.Match(pat, rel)
		if err != nil {
			return false, fmt.Errorf("exclude pattern %q: %w", pat, err)
		}
		if ok {
			return false, nil
		}
	}
	if len(o.Include) == 0 {
		return true, nil
	}
	for _, pat := range o.Include {
		ok, err := doublestar.Match(pat, rel)
		if err != nil {
			return false, fmt.Errorf("include pattern %q: %w", pat, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Load reads the project files into a FileSet in lexical path order.
// The prompt file is never part of the set.
func (w *Workspace) Load(opts LoadOptions) (*fileset.FileSet, error) {
	for _, pat := range append(append([]string(nil), opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid glob %q", pat)
		}
	}

	fsys := os.DirFS(w.Root)
	out := fileset.New()
	err := doublestar.GlobWalk(fsys, "**", func(rel string, d fs.DirEntry) error {
		if d.IsDir() || rel == PromptFile {
			return nil
		}
		ok, err := opts.keep(rel)
		if err != nil || !ok {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if opts.MaxFileSize > 0 {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.Size() > opts.MaxFileSize {
				return nil
			}
		}
		data, err := fs.ReadFile(fsys, rel)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		out.Set(rel, fileset.File{Data: data, Binary: IsBinary(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	return out, nil
}

// IsBinary sniffs data for NUL bytes or invalid UTF-8.
func IsBinary(data []byte) bool {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	return !utf8.Valid(data)
}

// Write stores every file of fs under the root and removes deleted paths.
// Each file is written atomically. The entrypoint script is made executable.
func (w *Workspace) Write(files *fileset.FileSet, deleted []string) error {
	var errs []error
	for _, p := range files.Paths() {
		f, _ := files.Get(p)
		target, err := w.resolve(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		mode := os.FileMode(0644)
		if p == fileset.EntrypointPath || strings.HasSuffix(p, ".sh") {
			mode = 0755
		}
		if err := writeAtomic(target, f.Data, mode); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", p, err))
		}
	}
	for _, p := range deleted {
		target, err := w.resolve(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("delete %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Workspace) resolve(p string) (string, error) {
	norm, err := fileset.NormalizePath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(w.Root, filepath.FromSlash(norm)), nil
}

func writeAtomic(target string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".genie-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}

	// Preserve permissions of an existing file
	if info, err := os.Stat(target); err == nil {
		mode = info.Mode().Perm() | (mode & 0100)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadPrompt returns the contents of the prompt file name (relative to the
// root unless absolute). A missing file is a *fileset.NotFoundError.
func (w *Workspace) ReadPrompt(name string) (string, error) {
	if name == "" {
		name = PromptFile
	}
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.Root, p)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &fileset.NotFoundError{Path: name}
	}
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return string(data), nil
}

// WritePrompt saves text as the prompt file so later runs can reuse it.
func (w *Workspace) WritePrompt(name, text string) error {
	if name == "" {
		name = PromptFile
	}
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.Root, p)
	}
	return writeAtomic(p, []byte(text), 0644)
}

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// LoadImages reads every supported image in dir, sorted by file name.
// Other files are ignored.
func LoadImages(dir string) ([]domain.ImagePart, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var images []domain.ImagePart
	for _, name := range names {
		mediaType, ok := imageTypes[strings.ToLower(path.Ext(name))]
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", name, err)
		}
		images = append(images, domain.ImagePart{
			Base64:    base64.StdEncoding.EncodeToString(data),
			MediaType: mediaType,
			Path:      name,
		})
	}
	return images, nil
}
