package render

import (
	"fmt"
	"time"

	"github.com/joss/genie/internal/agent"
	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/execenv"
	"github.com/joss/genie/internal/fileset"
)

// Files lists every path with its size.
func (w *Writer) Files(files *fileset.FileSet) {
	if files == nil || files.Len() == 0 {
		w.Empty("No files.")
		return
	}
	for _, p := range files.Paths() {
		f, _ := files.Get(p)
		kind := ""
		if f.Binary {
			kind = faint(" (binary)")
		}
		w.Item("%s %s%s", p, faint(fmt.Sprintf("%dB", len(f.Data))), kind)
	}
}

// Result prints the outcome of a workflow run.
func (w *Writer) Result(res *agent.Result) {
	if res == nil {
		return
	}
	switch res.Final() {
	case agent.StateDone:
		w.Success("%s (%d files)", res.Final(), res.Files.Len())
	default:
		w.Error("%s", res.Final())
	}

	w.Section("Files")
	w.Files(res.Files)
	if len(res.Deleted) > 0 {
		w.Section("Deleted")
		for _, p := range res.Deleted {
			w.Item("%s", red(p))
		}
	}
	if res.HasWarnings() {
		w.Section("Warnings")
		for _, warn := range res.Warnings {
			w.Warn("%s", warn.String())
		}
	}
	w.Line()
	w.Println("Tokens: %s  Cost: %s",
		domain.FormatTokens(res.Usage.TotalTokens()), domain.FormatCost(res.Usage.Cost))
}

// Run prints the outcome of an entrypoint run.
func (w *Writer) Run(r execenv.RunResult) {
	if len(r.Stdout) > 0 {
		w.Raw(string(r.Stdout))
	}
	if len(r.Stderr) > 0 {
		w.Raw(red(string(r.Stderr)))
	}
	if r.Success() {
		w.Success("run.sh exited 0 in %s", r.Duration.Round(time.Millisecond))
		return
	}
	w.Error("run.sh exited %d in %s", r.ExitCode, r.Duration.Round(time.Millisecond))
}
