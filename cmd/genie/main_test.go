package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/genie/internal/config"
	"github.com/joss/genie/internal/exec"
	"github.com/joss/genie/internal/logging"
	"github.com/joss/genie/internal/logstore"
	"github.com/joss/genie/internal/provider"
	"github.com/joss/genie/internal/render"
	"github.com/joss/genie/internal/testutil"
	"github.com/joss/genie/pkg/llm"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	render.DisableColor()
	os.Exit(m.Run())
}

const helloReply = "main.py\n```python\nprint(\"hello\")\n```\n"

const helloEntrypoint = "```sh\npython main.py\n```"

type harness struct {
	app      *app
	out      *bytes.Buffer
	errOut   *bytes.Buffer
	provider *testutil.MockProvider
	runner   *exec.MockRunner
	model    string
}

func newHarness(t *testing.T, stdin string, responses ...testutil.Response) *harness {
	t.Helper()
	home := t.TempDir()
	testutil.SetEnv(t, "GENIE_HOME", home)
	testutil.SetEnv(t, "TIKTOKEN_CACHE_DIR", filepath.Join(home, "tiktoken"))
	testutil.SetEnv(t, "GENIE_MODEL", "")
	testutil.SetEnv(t, "MODEL_NAME", "")
	testutil.SetEnv(t, "AZURE_OPENAI_ENDPOINT", "")
	testutil.SetEnv(t, "GENIE_PREPROMPTS_PATH", "")
	testutil.SetEnv(t, "GENIE_PROVIDER", "")
	config.ResetPaths()
	t.Cleanup(config.ResetPaths)

	h := &harness{
		out:      &bytes.Buffer{},
		errOut:   &bytes.Buffer{},
		provider: testutil.NewMockProvider(responses...),
		runner:   exec.NewMockRunner(),
	}
	h.runner.Missing["black"] = true
	h.runner.Missing["prettier"] = true

	h.app = newApp(strings.NewReader(stdin), h.out, h.errOut)
	h.app.runner = h.runner
	h.app.newProvider = func(cfg *config.Config, azure string) (llm.Provider, error) {
		h.model = cfg.Model
		return h.provider, nil
	}
	return h
}

func (h *harness) run(args ...string) int {
	return h.app.execute(args)
}

func project(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		testutil.WriteFile(t, dir, name, content)
	}
	return dir
}

func entries(t *testing.T, dir string) []logstore.Entry {
	t.Helper()
	got, err := readEntries(context.Background(), logstore.Dir(filepath.Join(dir, ".genie", "memory")))
	require.NoError(t, err)
	return got
}

func TestGenerate(t *testing.T) {
	h := newHarness(t, "",
		testutil.Reply(helloReply, 120, 30),
		testutil.Reply(helloEntrypoint, 60, 10))
	dir := project(t, map[string]string{"prompt": "print hello"})

	code := h.run(dir)
	require.Equal(t, exitOK, code, h.errOut.String())

	assert.Equal(t, "print(\"hello\")\n", testutil.ReadFile(t, filepath.Join(dir, "main.py")))
	assert.Equal(t, "python main.py\n", testutil.ReadFile(t, filepath.Join(dir, "run.sh")))
	info, err := os.Stat(filepath.Join(dir, "run.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100, "run.sh is executable")

	out := h.out.String()
	assert.Contains(t, out, "main.py", "reply is streamed")
	assert.Contains(t, out, "✓ DONE (2 files)")
	assert.Contains(t, out, "gen_entrypoint")
	assert.Equal(t, "gpt-4o", h.model)

	logged := entries(t, dir)
	require.Len(t, logged, 2)
	assert.Equal(t, "gen_code", logged[0].Step)
	assert.Equal(t, 120, logged[0].Usage.PromptTokens)
}

func TestGenerateFlagsOverrideConfig(t *testing.T) {
	h := newHarness(t, "", testutil.Reply(helloReply, 10, 10))
	testutil.SetEnv(t, "GENIE_MODEL", "gpt-4-turbo")
	dir := project(t, map[string]string{"prompt": "print hello"})

	require.Equal(t, exitOK, h.run(dir, "--no-entrypoint", "-m", "claude-3-5-sonnet-20241022", "-t", "0.7"))
	assert.Equal(t, "claude-3-5-sonnet-20241022", h.model)

	req := h.provider.Requests()[0]
	assert.Equal(t, "claude-3-5-sonnet-20241022", req.Model)
	assert.InDelta(t, 0.7, req.Temperature, 1e-9)
	assert.Equal(t, 1, h.provider.CallCount(), "no entrypoint call")
}

func TestGenerateModelFromEnv(t *testing.T) {
	h := newHarness(t, "", testutil.Reply(helloReply, 10, 10))
	dir := project(t, map[string]string{
		"prompt": "print hello",
		".env":   "GENIE_MODEL=gpt-4o-mini\n",
	})
	// .env never overrides a variable that is set, even to ""
	require.NoError(t, os.Unsetenv("GENIE_MODEL"))

	require.Equal(t, exitOK, h.run(dir, "--no-entrypoint"))
	assert.Equal(t, "gpt-4o-mini", h.model)
}

func TestGenerateAsksForPrompt(t *testing.T) {
	h := newHarness(t, "a hello world script\n", testutil.Reply(helloReply, 10, 10))
	dir := t.TempDir()

	require.Equal(t, exitOK, h.run(dir, "--no-entrypoint"))
	assert.Equal(t, "a hello world script", testutil.ReadFile(t, filepath.Join(dir, "prompt")))
	assert.Equal(t, "a hello world script", h.provider.Requests()[0].Messages[0].Text())
}

func TestGenerateWithClarify(t *testing.T) {
	h := newHarness(t, "a terminal app\n",
		testutil.Reply("Should it be a web or terminal app?", 10, 10),
		testutil.Reply("Nothing to clarify.", 10, 5),
		testutil.Reply(helloReply, 10, 10))
	dir := project(t, map[string]string{"prompt": "hello app"})

	require.Equal(t, exitOK, h.run(dir, "--clarify", "--no-entrypoint"), h.errOut.String())
	assert.Contains(t, h.out.String(), "Should it be a web or terminal app?")

	steps := []string{}
	for _, e := range entries(t, dir) {
		steps = append(steps, e.Step)
	}
	assert.Equal(t, []string{"clarify", "clarify", "gen_code"}, steps)

	last := h.provider.Requests()[2].Messages
	assert.Contains(t, last[len(last)-1].Text(), "A: a terminal app")
}

func TestGenerateWarningsExitPartial(t *testing.T) {
	reply := helloReply + "\n../escape.py\n```python\nx = 1\n```\n"
	h := newHarness(t, "", testutil.Reply(reply, 10, 10))
	dir := project(t, map[string]string{"prompt": "print hello"})

	code := h.run(dir, "--no-entrypoint", "--yes")
	assert.Equal(t, exitPartial, code)
	assert.FileExists(t, filepath.Join(dir, "main.py"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dir), "escape.py"))
	assert.Contains(t, h.out.String(), "path_traversal")
}

func TestGenerateAuthFailure(t *testing.T) {
	h := newHarness(t, "", testutil.Fail(&provider.APIError{Provider: "openai", StatusCode: 401, Body: "bad key"}))
	dir := project(t, map[string]string{"prompt": "print hello"})

	assert.Equal(t, exitFailure, h.run(dir))
	assert.Contains(t, h.errOut.String(), "✗")
	assert.Contains(t, h.out.String(), "FAILED")
	assert.NoFileExists(t, filepath.Join(dir, "main.py"))
	assert.Equal(t, 1, h.provider.CallCount())
}

func TestGenerateAndRun(t *testing.T) {
	h := newHarness(t, "",
		testutil.Reply(helloReply, 10, 10),
		testutil.Reply(helloEntrypoint, 10, 10))
	h.runner.AddResponse("bash", exec.MockResponse{Stdout: []byte("hello\n")})
	dir := project(t, map[string]string{"prompt": "print hello"})

	require.Equal(t, exitOK, h.run(dir, "--run", "--yes"), h.errOut.String())
	assert.Contains(t, h.out.String(), "hello\n✓ run.sh exited 0")

	calls := h.runner.Calls
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Equal(t, "bash", last.Name)
	assert.Equal(t, []string{"run.sh"}, last.Args)
}

const calcSource = "def add(a, b):\n    return a + b\n"

const subtractDiff = "```diff\n" +
	"--- a/calc.py\n" +
	"+++ b/calc.py\n" +
	"@@ -1,2 +1,5 @@\n" +
	" def add(a, b):\n" +
	"     return a + b\n" +
	"+\n" +
	"+def sub(a, b):\n" +
	"+    return a - b\n" +
	"```\n"

func TestImprove(t *testing.T) {
	h := newHarness(t, "", testutil.Reply(subtractDiff, 50, 20))
	dir := project(t, map[string]string{
		"prompt":  "add sub",
		"calc.py": calcSource,
		"README":  "calc\n",
		".env":    "SECRET=1\n",
	})
	t.Cleanup(func() { os.Unsetenv("SECRET") })

	require.Equal(t, exitOK, h.run(dir, "--improve", "--yes"), h.errOut.String())
	assert.Equal(t, calcSource+"\ndef sub(a, b):\n    return a - b\n", testutil.ReadFile(t, filepath.Join(dir, "calc.py")))
	assert.Equal(t, "calc\n", testutil.ReadFile(t, filepath.Join(dir, "README")))

	out := h.out.String()
	assert.Contains(t, out, "--- a/calc.py")
	assert.Contains(t, out, "+def sub(a, b):")

	sent := h.provider.Requests()[0].Messages[0].Text()
	assert.Contains(t, sent, "File: calc.py")
	assert.NotContains(t, sent, "SECRET", ".env is never sent")
	assert.NotContains(t, sent, "add sub", "prompt file is not part of the project")
}

func TestImproveDeclined(t *testing.T) {
	h := newHarness(t, "n\n", testutil.Reply(subtractDiff, 50, 20))
	dir := project(t, map[string]string{"prompt": "add sub", "calc.py": calcSource})

	require.Equal(t, exitOK, h.run(dir, "--improve"))
	assert.Equal(t, calcSource, testutil.ReadFile(t, filepath.Join(dir, "calc.py")))
	assert.Contains(t, h.out.String(), "Apply these changes? [Y/n]")
	assert.Contains(t, h.out.String(), "Nothing written.")
}

func TestImproveInclude(t *testing.T) {
	h := newHarness(t, "", testutil.Reply(subtractDiff, 50, 20))
	dir := project(t, map[string]string{
		"prompt":      "add sub",
		"calc.py":     calcSource,
		"docs/api.md": "# api\n",
	})

	require.Equal(t, exitOK, h.run(dir, "-i", "-y", "--include", "**/*.py"))
	sent := h.provider.Requests()[0].Messages[0].Text()
	assert.Contains(t, sent, "calc.py")
	assert.NotContains(t, sent, "docs/api.md")
}

func TestLogsAndCost(t *testing.T) {
	h := newHarness(t, "",
		testutil.Reply(helloReply, 120, 30),
		testutil.Reply(helloEntrypoint, 60, 10))
	dir := project(t, map[string]string{"prompt": "print hello"})
	require.Equal(t, exitOK, h.run(dir))

	h.out.Reset()
	require.Equal(t, exitOK, h.run("logs", dir))
	assert.Contains(t, h.out.String(), "gen_code")
	assert.Contains(t, h.out.String(), "gen_entrypoint")

	h.out.Reset()
	require.Equal(t, exitOK, h.run("logs", dir, "--full"))
	assert.Contains(t, h.out.String(), "=== gen_code #1")

	h.out.Reset()
	require.Equal(t, exitOK, h.run("cost", dir, "--csv"))
	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "step_name,"))
	assert.True(t, strings.HasPrefix(lines[1], "gen_code,120,30,0,150,"))

	h.out.Reset()
	require.Equal(t, exitOK, h.run("cost", dir))
	assert.Contains(t, h.out.String(), "Total: 220 tokens")
}

func TestLogsArchived(t *testing.T) {
	h := newHarness(t, "", testutil.Reply(helloReply, 10, 10))
	dir := project(t, map[string]string{"prompt": "print hello"})

	require.Equal(t, exitOK, h.run("logs", dir, "--archived"))
	assert.Contains(t, h.out.String(), "No archived logs.")

	require.Equal(t, exitOK, h.run(dir, "--no-entrypoint"))
	require.Equal(t, exitOK, h.run(dir, "--no-entrypoint"))

	h.out.Reset()
	require.Equal(t, exitOK, h.run("logs", dir, "--archived"))
	assert.Contains(t, h.out.String(), "logs_")
	assert.Contains(t, h.out.String(), "gen_code")
}

func TestRunCommand(t *testing.T) {
	h := newHarness(t, "")
	h.runner.AddResponse("bash", exec.MockResponse{Stdout: []byte("ran\n")})
	dir := project(t, map[string]string{"run.sh": "echo ran\n"})

	require.Equal(t, exitOK, h.run("run", dir, "--yes"), h.errOut.String())
	assert.Contains(t, h.out.String(), "ran\n✓ run.sh exited 0")
	assert.Equal(t, 0, h.provider.CallCount())
}

func TestRunCommandFailure(t *testing.T) {
	h := newHarness(t, "")
	h.runner.AddResponse("bash", exec.MockResponse{Stderr: []byte("boom\n"), Err: assert.AnError})
	dir := project(t, map[string]string{"run.sh": "exit 1\n"})

	assert.Equal(t, exitFailure, h.run("run", dir, "-y"))
}

func TestRunCommandNoEntrypoint(t *testing.T) {
	h := newHarness(t, "")
	dir := project(t, map[string]string{"main.py": "print(1)\n"})

	require.Equal(t, exitOK, h.run("run", dir, "-y"))
	assert.Contains(t, h.out.String(), "no run.sh to execute")
}

func TestVersion(t *testing.T) {
	h := newHarness(t, "")
	require.Equal(t, exitOK, h.run("version"))
	assert.Equal(t, "genie "+version+"\n", h.out.String())
}

func TestModels(t *testing.T) {
	h := newHarness(t, "")
	require.Equal(t, exitOK, h.run("models"))
	out := h.out.String()
	assert.Contains(t, out, "gpt-4o")
	assert.Contains(t, out, "anthropic")

	h = newHarness(t, "")
	require.Equal(t, exitOK, h.run("models", "gpt-4o"))
	assert.NotContains(t, h.out.String(), "anthropic")

	h = newHarness(t, "")
	assert.Equal(t, exitFailure, h.run("models", "no-such-model"))
	assert.Contains(t, h.errOut.String(), "unknown model")
}

func TestUnknownFlag(t *testing.T) {
	h := newHarness(t, "")
	assert.Equal(t, exitFailure, h.run("--no-such-flag"))
	assert.Contains(t, h.errOut.String(), "unknown flag")
}
