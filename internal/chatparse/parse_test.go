package chatparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/genie/internal/fileset"
)

func content(t *testing.T, fs *fileset.FileSet, p string) string {
	t.Helper()
	f, ok := fs.Get(p)
	require.True(t, ok, "missing %s (have %v)", p, fs.Paths())
	return f.String()
}

func TestParse_Basic(t *testing.T) {
	reply := strings.Join([]string{
		"Here is the program.",
		"",
		"main.py",
		"```python",
		"print('hi')",
		"```",
		"",
		"requirements.txt",
		"```",
		"requests",
		"```",
		"That's all.",
	}, "\n")

	res := Parse(reply)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{"main.py", "requirements.txt"}, res.Files.Paths())
	assert.Equal(t, "print('hi')\n", content(t, res.Files, "main.py"))
	assert.Equal(t, "requests\n", content(t, res.Files, "requirements.txt"))
}

func TestCleanMarker(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		isPath bool
	}{
		{"main.go", "main.go", true},
		{"## src/app.py", "src/app.py", true},
		{"**src/app.py**", "src/app.py", true},
		{"`src/app.py`", "src/app.py", true},
		{"[src/app.py]", "src/app.py", true},
		{"File: src/app.py", "src/app.py", true},
		{"src/app.py:", "src/app.py", true},
		{"### **File: `web/index.html`**", "web/index.html", true},
		{"`my notes.txt`", "my notes.txt", true},
		{"Here is the code:", "Here is the code", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := CleanMarker(tt.in)
			assert.Equal(t, tt.isPath, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_ProseBeforeFenceIsWarned(t *testing.T) {
	reply := "Run it like this:\n```bash\npython main.py\n```\n"

	res := Parse(reply)
	assert.Zero(t, res.Files.Len())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Reason, "prose")
}

func TestParse_UnlabelledBlockIsWarned(t *testing.T) {
	res := Parse("```\nx\n```\n")
	assert.Zero(t, res.Files.Len())
	require.Len(t, res.Warnings, 1)
}

func TestParse_LongFence(t *testing.T) {
	reply := "README.md\n````markdown\nUsage:\n```sh\nmake\n```\n````\n"

	res := Parse(reply)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "Usage:\n```sh\nmake\n```\n", content(t, res.Files, "README.md"))
}

func TestParse_Unterminated(t *testing.T) {
	res := Parse("main.py\n```python\nprint(1)\nprint(2)")

	assert.Equal(t, "print(1)\nprint(2)\n", content(t, res.Files, "main.py"))
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Reason, "unterminated")
}

func TestParse_RecoversAtNextMarker(t *testing.T) {
	reply := strings.Join([]string{
		"a.py",
		"```python",
		"A = 1",
		"b.py",
		"```python",
		"B = 2",
		"```",
	}, "\n")

	res := Parse(reply)
	assert.Equal(t, "A = 1\n", content(t, res.Files, "a.py"))
	assert.Equal(t, "B = 2\n", content(t, res.Files, "b.py"))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "a.py", res.Warnings[0].Path)
}

func TestParse_DuplicateLastWins(t *testing.T) {
	reply := "a.py\n```\nold\n```\n\na.py\n```\nnew\n```\n"

	res := Parse(reply)
	assert.Equal(t, "new\n", content(t, res.Files, "a.py"))
	assert.Equal(t, 1, res.Files.Len())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Reason, "duplicate")
}

func TestParse_PathTraversal(t *testing.T) {
	reply := "../etc/passwd\n```\nroot\n```\n\nok.txt\n```\nfine\n```\n"

	res := Parse(reply)
	assert.Equal(t, []string{"ok.txt"}, res.Files.Paths())
	require.Len(t, res.Warnings, 1)
	var pte *fileset.PathTraversalError
	assert.ErrorAs(t, res.Warnings[0].Err, &pte)
}

func TestParse_NormalizesPaths(t *testing.T) {
	res := Parse("./src\\util.py\n```\nx\n```\n")
	assert.Equal(t, []string{"src/util.py"}, res.Files.Paths())
}

func TestRoundTrip(t *testing.T) {
	fs := fileset.New()
	fs.Set("main.go", fileset.Text("package main\n\nfunc main() {}\n"))
	fs.Set("README.md", fileset.Text("# Title\n\n```go\ncode\n```\n"))
	fs.Set("no_newline.txt", fileset.Text("last line"))
	fs.Set("empty.txt", fileset.Text(""))
	fs.Set("blank.txt", fileset.Text("\n"))
	fs.Set("crlf.bat", fileset.Text("@echo off\r\necho hi\r\n"))
	fs.Set("docs/my notes.txt", fileset.Text("spaces in path\n"))
	fs.Set("logo.png", fileset.File{Data: []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 0xff}, Binary: true})
	fs.Set(fileset.EntrypointPath, fileset.Text("#!/bin/bash\npython main.py\n"))

	res := Parse(fs.Serialize())
	assert.Empty(t, res.Warnings)
	assert.True(t, fs.Equal(res.Files), "got %v", res.Files.Paths())
	assert.Equal(t, fs.Paths(), res.Files.Paths())
}

func TestRoundTrip_UnusualPaths(t *testing.T) {
	paths := []string{
		"notes.noeol",
		"data.binary",
		"#scratch.md",
		"todo:",
		"*glob*",
		"__init__.py",
		"file:name.txt",
		"[draft].md",
		"tick`name.txt",
		"dir/two  spaces.txt",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			fs := fileset.New()
			fs.Set(p, fileset.Text("hello\n"))
			fs.Set("tail.txt", fileset.Text("no newline"))

			res := Parse(fs.Serialize())
			assert.Empty(t, res.Warnings)
			assert.Equal(t, fs.Paths(), res.Files.Paths())
			assert.True(t, fs.Equal(res.Files))
		})
	}
}

func TestExtractCodeBlocks(t *testing.T) {
	reply := "Install:\n```sh\npip install -r requirements.txt\n```\nRun:\n```\npython main.py &\n```\n"

	blocks := ExtractCodeBlocks(reply)
	assert.Equal(t, []string{"pip install -r requirements.txt", "python main.py &"}, blocks)
	assert.Empty(t, ExtractCodeBlocks("no code here"))
}
