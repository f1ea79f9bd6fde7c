// Package templates holds the preprompts that steer each pipeline step.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed preprompts/*.txt
var embedded embed.FS

// Name identifies one template.
type Name string

const (
	Roadmap        Name = "roadmap"
	Generate       Name = "generate"
	Improve        Name = "improve"
	FileFormat     Name = "file_format"
	FileFormatDiff Name = "file_format_diff"
	Philosophy     Name = "philosophy"
	Entrypoint     Name = "entrypoint"
	Clarify        Name = "clarify"
)

// Names lists every template the pipeline reads.
var Names = []Name{Roadmap, Generate, Improve, FileFormat, FileFormatDiff, Philosophy, Entrypoint, Clarify}

// Placeholder is replaced by the file format template.
const Placeholder = "FILE_FORMAT"

// Set maps template names to their text.
type Set map[Name]string

// Get returns the named template, or "" when absent.
func (s Set) Get(n Name) string { return s[n] }

// Defaults returns the embedded templates.
func Defaults() Set {
	set := make(Set, len(Names))
	for _, n := range Names {
		data, err := embedded.ReadFile("preprompts/" + string(n) + ".txt")
		if err != nil {
			panic(fmt.Sprintf("embedded template %s: %v", n, err))
		}
		set[n] = string(data)
	}
	return set
}

// Load reads every <name>.txt file in dir. Unknown file names are ignored
// and a missing dir yields an empty set.
func Load(dir string) (Set, error) {
	set := make(Set)
	if dir == "" {
		return set, nil
	}
	for _, n := range Names {
		data, err := os.ReadFile(filepath.Join(dir, string(n)+".txt"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", n, err)
		}
		set[n] = string(data)
	}
	return set, nil
}

// Merge returns defaults with every non-empty override applied.
func Merge(defaults, overrides Set) Set {
	out := make(Set, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	return out
}

// Mode is the workflow a system prompt is built for.
type Mode int

const (
	ModeGenerate Mode = iota
	ModeImprove
	ModeLiteGenerate
	ModeLiteImprove
)

func (m Mode) String() string {
	switch m {
	case ModeImprove:
		return "improve"
	case ModeLiteGenerate:
		return "lite"
	case ModeLiteImprove:
		return "lite_improve"
	default:
		return "generate"
	}
}

// Selection is the set of prompts one workflow run uses.
type Selection struct {
	System     string
	Entrypoint string
	Clarify    string
}

// Select builds the prompts for mode from the embedded templates overlaid
// with overrides. It has no side effects.
func Select(mode Mode, overrides Set) Selection {
	set := Merge(Defaults(), overrides)
	return Selection{
		System:     SystemPrompt(mode, set),
		Entrypoint: set.Get(Entrypoint),
		Clarify:    set.Get(Clarify),
	}
}

// SystemPrompt assembles roadmap, the step template with the file format
// substituted, and the philosophy notes. Lite modes send the file format
// alone.
func SystemPrompt(mode Mode, set Set) string {
	switch mode {
	case ModeLiteGenerate:
		return set.Get(FileFormat)
	case ModeLiteImprove:
		return set.Get(FileFormatDiff)
	}

	step, format := set.Get(Generate), set.Get(FileFormat)
	if mode == ModeImprove {
		step, format = set.Get(Improve), set.Get(FileFormatDiff)
	}
	return set.Get(Roadmap) +
		strings.ReplaceAll(step, Placeholder, format) +
		"\nUseful to know:\n" +
		set.Get(Philosophy)
}
