package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joss/genie/internal/chatparse"
	"github.com/joss/genie/internal/diff"
	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/fileset"
	"github.com/joss/genie/internal/templates"
)

// Step names as they appear in the log store.
const (
	StepClarify    = "clarify"
	StepGenerate   = "gen_code"
	StepEntrypoint = "gen_entrypoint"
	StepImprove    = "improve"
)

// DefaultEntrypointPrompt asks for the run script when the prompt carries
// no instruction of its own.
const DefaultEntrypointPrompt = "Make a unix script that\n" +
	"a) installs dependencies\n" +
	"b) runs all necessary parts of the codebase (in parallel if necessary)\n"

const (
	nothingToClarify = "nothing to clarify"
	declineReply     = "Make your own assumptions and state them explicitly before starting"
	continueAsking   = "\n\nIs anything else unclear? If yes, ask another question. Otherwise state: \"Nothing to clarify\""
)

// Init generates a project from prompt.
func (a *Agent) Init(ctx context.Context, prompt domain.Prompt) (*Result, error) {
	res := newResult()
	if err := prompt.Validate(); err != nil {
		return res, err
	}
	if a.cfg.Clarify && a.clarifier == nil {
		return res, ErrNoClarifier
	}
	sel := templates.Select(a.mode(false), a.cfg.Overrides)

	if a.cfg.Clarify {
		if err := a.m.to(StateClarifying); err != nil {
			return res, err
		}
		clarified, err := a.clarify(ctx, sel.Clarify, prompt)
		if err != nil {
			return a.fail(res, StepClarify, err)
		}
		prompt = clarified
	}

	if err := a.m.to(StateGenerating); err != nil {
		return a.fail(res, StepGenerate, err)
	}
	msgs := []domain.Message{domain.System(sel.System), prompt.Message()}
	reply, err := a.call(ctx, StepGenerate, msgs)
	res.Reply = reply
	if err != nil {
		return a.fail(res, StepGenerate, err)
	}

	parsed := chatparse.Parse(reply)
	addParseWarnings(res, parsed.Warnings)
	res.Files = parsed.Files
	if parsed.Files.Len() == 0 {
		return a.fail(res, StepGenerate, ErrNoFiles)
	}
	if err := parsed.Files.Validate(); err != nil {
		return a.fail(res, StepGenerate, err)
	}
	res.Files = a.format(ctx, res, parsed.Files, parsed.Files.Paths())

	if a.cfg.Entrypoint {
		if err := a.m.to(StateEntrypoint); err != nil {
			return a.fail(res, StepEntrypoint, err)
		}
		if err := a.entrypoint(ctx, sel.Entrypoint, prompt, res); err != nil {
			return a.fail(res, StepEntrypoint, err)
		}
	}

	if err := a.m.to(StateDone); err != nil {
		return a.fail(res, StepGenerate, err)
	}
	a.finish(res)
	a.logger.Info("generate_done", map[string]interface{}{
		"files":    res.Files.Len(),
		"warnings": len(res.Warnings),
		"cost":     res.Usage.Cost,
	})
	return res, nil
}

// Entrypoint runs only the entrypoint step against files, for projects
// generated without one.
func (a *Agent) Entrypoint(ctx context.Context, prompt domain.Prompt, files *fileset.FileSet) (*Result, error) {
	res := newResult()
	res.Files = files.Clone()
	sel := templates.Select(a.mode(false), a.cfg.Overrides)

	if err := a.m.to(StateEntrypoint); err != nil {
		return res, err
	}
	if err := a.entrypoint(ctx, sel.Entrypoint, prompt, res); err != nil {
		return a.fail(res, StepEntrypoint, err)
	}
	if err := a.m.to(StateDone); err != nil {
		return a.fail(res, StepEntrypoint, err)
	}
	a.finish(res)
	return res, nil
}

// Improve edits existing according to prompt through unified diffs.
func (a *Agent) Improve(ctx context.Context, prompt domain.Prompt, existing *fileset.FileSet) (*Result, error) {
	res := newResult()
	res.Files = existing.Clone()
	if err := prompt.Validate(); err != nil {
		return res, err
	}
	if err := a.m.to(StateImproving); err != nil {
		return res, err
	}
	sel := templates.Select(a.mode(true), a.cfg.Overrides)

	msgs := []domain.Message{
		domain.System(sel.System),
		domain.User(existing.ToChat()),
		prompt.Message(),
	}
	reply, err := a.call(ctx, StepImprove, msgs)
	res.Reply = reply
	if err != nil {
		return a.fail(res, StepImprove, err)
	}

	patches, perr := diff.Parse(reply)
	for _, e := range unjoin(perr) {
		res.warn(Warning{Kind: WarnPatch, Message: e.Error(), Err: e})
	}
	if len(patches) == 0 && perr != nil {
		return a.fail(res, StepImprove, fmt.Errorf("%w: %w", ErrNoDiff, perr))
	}
	if len(patches) == 0 {
		res.warn(Warning{Kind: WarnEmpty, Message: "reply contained no diff; files unchanged"})
		if err := a.m.to(StateDone); err != nil {
			return a.fail(res, StepImprove, err)
		}
		a.finish(res)
		return res, nil
	}

	out, report := diff.Apply(existing, patches)
	for _, f := range report.Files {
		for _, e := range f.Errors {
			res.warn(Warning{Kind: WarnPatch, Path: f.Path, Message: e.Error(), Err: e})
		}
		if f.Skipped > 0 {
			res.warn(Warning{Kind: WarnSkipped, Path: f.Path, Message: fmt.Sprintf("%d hunk(s) already applied", f.Skipped)})
		}
		if !f.Failed() && f.Action == diff.ActionDelete {
			res.Deleted = append(res.Deleted, f.Path)
		}
	}
	if report.AllFailed() {
		return a.fail(res, StepImprove, fmt.Errorf("%w: %w", ErrNoDiff, report.Err()))
	}

	res.Files = a.format(ctx, res, out, report.Changed())
	if err := a.m.to(StateDone); err != nil {
		return a.fail(res, StepImprove, err)
	}
	a.finish(res)
	a.logger.Info("improve_done", map[string]interface{}{
		"changed":  len(report.Changed()),
		"deleted":  len(res.Deleted),
		"warnings": len(res.Warnings),
	})
	return res, nil
}

// clarify holds the question/answer rounds and folds the transcript into
// the prompt text.
func (a *Agent) clarify(ctx context.Context, system string, prompt domain.Prompt) (domain.Prompt, error) {
	msgs := []domain.Message{domain.System(system), prompt.Message()}
	var qa []string

	for round := 0; round < a.cfg.ClarifyRounds; round++ {
		reply, err := a.call(ctx, StepClarify, msgs)
		if err != nil {
			return prompt, err
		}
		msgs = append(msgs, domain.Assistant(reply))
		if strings.Contains(strings.ToLower(reply), nothingToClarify) {
			break
		}

		answer, ok, err := a.clarifier.Answer(ctx, reply)
		if err != nil {
			return prompt, fmt.Errorf("clarifier: %w", err)
		}
		if !ok || strings.TrimSpace(answer) == "" {
			qa = append(qa, fmt.Sprintf("Q: %s\nA: %s", reply, declineReply))
			break
		}
		qa = append(qa, fmt.Sprintf("Q: %s\nA: %s", reply, answer))
		msgs = append(msgs, domain.User(answer+continueAsking))
	}

	if len(qa) == 0 {
		return prompt, nil
	}
	text := prompt.Text() + "\n\nClarifications:\n\n" + strings.Join(qa, "\n\n")
	return prompt.WithText(text), nil
}

// entrypoint asks for the run script and stores it as run.sh.
func (a *Agent) entrypoint(ctx context.Context, system string, prompt domain.Prompt, res *Result) error {
	instruction := prompt.EntrypointPrompt()
	if instruction == "" {
		instruction = DefaultEntrypointPrompt
	}
	msgs := []domain.Message{
		domain.System(system),
		domain.User(instruction + "\nInformation about the codebase:\n\n" + res.Files.ToChat()),
	}
	reply, err := a.call(ctx, StepEntrypoint, msgs)
	if err != nil {
		return err
	}

	blocks := chatparse.ExtractCodeBlocks(reply)
	if len(blocks) == 0 {
		res.warn(Warning{Kind: WarnEntrypoint, Path: fileset.EntrypointPath, Message: "reply contained no code block"})
		return nil
	}
	res.Files.Set(fileset.EntrypointPath, fileset.Text(strings.Join(blocks, "\n")+"\n"))
	return nil
}

// format runs the linter over the listed paths and returns the merged set.
func (a *Agent) format(ctx context.Context, res *Result, files *fileset.FileSet, paths []string) *fileset.FileSet {
	if a.linter == nil || len(paths) == 0 {
		return files
	}
	subset := fileset.New()
	for _, p := range paths {
		if f, ok := files.Get(p); ok {
			subset.Set(p, f)
		}
	}
	formatted, warnings := a.linter.Run(ctx, subset)
	for _, w := range warnings {
		res.warn(Warning{Kind: WarnFormat, Path: w.Path, Message: w.Error(), Err: w})
	}
	out := files.Clone()
	out.Merge(formatted)
	return out
}

func addParseWarnings(res *Result, warnings []chatparse.ParseWarning) {
	for _, w := range warnings {
		kind := WarnParse
		var pte *fileset.PathTraversalError
		if errors.As(w.Err, &pte) {
			kind = WarnTraversal
		}
		res.warn(Warning{Kind: kind, Path: w.Path, Message: w.String(), Err: w.Err})
	}
}

// unjoin splits an errors.Join result back into its parts.
func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
