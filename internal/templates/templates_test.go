package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	set := Defaults()
	for _, n := range Names {
		assert.NotEmpty(t, set.Get(n), n)
	}
	assert.Contains(t, set.Get(Generate), Placeholder)
	assert.Contains(t, set.Get(Improve), Placeholder)
}

func TestSystemPrompt(t *testing.T) {
	set := Set{
		Roadmap:        "R|",
		Generate:       "G[FILE_FORMAT]",
		Improve:        "I[FILE_FORMAT]",
		FileFormat:     "blocks",
		FileFormatDiff: "diffs",
		Philosophy:     "P",
	}

	assert.Equal(t, "R|G[blocks]\nUseful to know:\nP", SystemPrompt(ModeGenerate, set))
	assert.Equal(t, "R|I[diffs]\nUseful to know:\nP", SystemPrompt(ModeImprove, set))
	assert.Equal(t, "blocks", SystemPrompt(ModeLiteGenerate, set))
	assert.Equal(t, "diffs", SystemPrompt(ModeLiteImprove, set))
}

func TestSelectIsPure(t *testing.T) {
	overrides := Set{Philosophy: "Write Go only."}

	a := Select(ModeGenerate, overrides)
	b := Select(ModeGenerate, overrides)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasSuffix(a.System, "Write Go only."))
	assert.NotContains(t, a.System, Placeholder)
	assert.Equal(t, Defaults().Get(Entrypoint), a.Entrypoint)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roadmap.txt"), []byte("custom roadmap\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	set, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Set{Roadmap: "custom roadmap\n"}, set)

	merged := Merge(Defaults(), set)
	assert.Equal(t, "custom roadmap\n", merged.Get(Roadmap))
	assert.Equal(t, Defaults().Get(Generate), merged.Get(Generate))
}

func TestLoadMissingDir(t *testing.T) {
	set, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "improve", ModeImprove.String())
	assert.Equal(t, "generate", ModeGenerate.String())
}
