package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/genie/internal/agent"
	"github.com/joss/genie/internal/config"
	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/execenv"
	"github.com/joss/genie/internal/fileset"
	"github.com/joss/genie/internal/inference"
	"github.com/joss/genie/internal/lint"
	"github.com/joss/genie/internal/render"
	"github.com/joss/genie/internal/templates"
	"github.com/joss/genie/internal/workspace"
)

type rootOptions struct {
	model        string
	temperature  float64
	improve      bool
	lite         bool
	clarify      bool
	azure        string
	noEntrypoint bool
	promptFile   string
	imageDir     string
	include      []string
	exclude      []string
	run          bool
	docker       bool
	yes          bool
}

func (a *app) runMain(cmd *cobra.Command, dir string, o *rootOptions) error {
	ctx := cmd.Context()
	ws, cfg, err := a.setup(dir)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = o.model
	}
	if cmd.Flags().Changed("temperature") {
		cfg.Temperature = o.temperature
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	azure := o.azure
	if azure == "" {
		azure = cfg.AzureEndpoint
	}
	a.prompter.AssumeYes = o.yes

	prompt, err := a.loadPrompt(ws, o)
	if err != nil {
		return err
	}
	overrides, err := loadOverrides(ws, cfg)
	if err != nil {
		return err
	}

	var existing *fileset.FileSet
	if o.improve {
		existing, err = ws.Load(workspace.LoadOptions{
			Include: o.include,
			Exclude: append([]string{".env"}, o.exclude...),
		})
		if err != nil {
			return fmt.Errorf("load project: %w", err)
		}
	}

	prov, err := a.newProvider(cfg, azure)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	session, err := agent.OpenSession(ctx, ws)
	if err != nil {
		return err
	}
	a.shutdown.RegisterCloser("session", session)

	policy := inference.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.RetryAttempts
	policy.MaxElapsed = cfg.RetryMaxElapsed

	agentOpts := []agent.Option{
		agent.WithLinter(lint.Default(a.runner)),
		agent.WithChunkHandler(func(_, chunk string) {
			fmt.Fprint(a.out, chunk)
		}),
	}
	if o.clarify {
		agentOpts = append(agentOpts, agent.WithClarifier(a.prompter))
	}
	ag := agent.New(session, prov, agent.Config{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
		Lite:        o.lite,
		Clarify:     o.clarify,
		Entrypoint:  !o.noEntrypoint,
		Overrides:   overrides,
	}, []inference.Option{inference.WithRetryPolicy(policy)}, agentOpts...)

	var res *agent.Result
	if o.improve {
		res, err = ag.Improve(ctx, prompt, existing)
	} else {
		res, err = ag.Init(ctx, prompt)
	}
	fmt.Fprintln(a.out)

	w := render.NewWriter(a.out)
	if err != nil {
		w.Result(res)
		return err
	}

	if o.improve {
		changes, derr := render.UnifiedDiff(existing, res.Files)
		if derr != nil {
			return derr
		}
		if changes == "" {
			w.Empty("No changes.")
		} else {
			w.Section("Changes")
			w.Raw(render.ColorDiff(changes))
		}
	}
	w.Result(res)

	if o.improve {
		ok, err := a.prompter.Confirm("Apply these changes?", true)
		if err != nil {
			return fmt.Errorf("confirm (use --yes to skip): %w", err)
		}
		if !ok {
			w.Empty("Nothing written.")
			return nil
		}
	}
	if err := ws.Write(res.Files, res.Deleted); err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	w.Success("wrote %d files to %s", res.Files.Len(), ws.Root)

	if o.run {
		if err := a.runEntrypoint(ctx, ws, cfg, res.Files, o.docker); err != nil {
			return err
		}
	}

	w.Section("Usage")
	w.Raw(render.UsageTable(session.Ledger.Records()) + "\n")

	if res.HasWarnings() {
		return &exitError{code: exitPartial}
	}
	return nil
}

func (a *app) loadPrompt(ws *workspace.Workspace, o *rootOptions) (domain.Prompt, error) {
	text, err := ws.ReadPrompt(o.promptFile)
	if fileset.IsNotFound(err) {
		question := "What application do you want genie to generate?"
		if o.improve {
			question = "How do you want to improve the application?"
		}
		text, err = a.prompter.Prompt(question)
		if err != nil {
			return domain.Prompt{}, err
		}
		if err := ws.WritePrompt(o.promptFile, text); err != nil {
			return domain.Prompt{}, fmt.Errorf("save prompt: %w", err)
		}
	} else if err != nil {
		return domain.Prompt{}, err
	}

	var opts []domain.PromptOption
	if o.imageDir != "" {
		images, err := workspace.LoadImages(resolveIn(ws.Root, o.imageDir))
		if err != nil {
			return domain.Prompt{}, err
		}
		opts = append(opts, domain.WithImages(images...))
	}
	return domain.NewPrompt(text, opts...)
}

// loadOverrides layers preprompt directories: user home, then the project,
// then GENIE_PREPROMPTS_PATH.
func loadOverrides(ws *workspace.Workspace, cfg *config.Config) (templates.Set, error) {
	set := templates.Set{}
	for _, dir := range []string{config.GetPaths().Preprompts, ws.PrepromptsDir(), cfg.PrepromptsPath} {
		loaded, err := templates.Load(dir)
		if err != nil {
			return nil, err
		}
		set = templates.Merge(set, loaded)
	}
	return set, nil
}

func (a *app) newEnv(ws *workspace.Workspace, cfg *config.Config, docker bool) (execenv.Env, error) {
	if docker {
		d, err := execenv.NewDocker(cfg.DockerImage)
		if err != nil {
			return nil, fmt.Errorf("docker: %w", err)
		}
		d.Timeout = cfg.RunTimeout
		a.shutdown.RegisterCloser("docker", d)
		return d, nil
	}
	d := execenv.NewDisk(ws.Root)
	d.Runner = a.runner
	d.Timeout = cfg.RunTimeout
	return d, nil
}

func (a *app) runEntrypoint(ctx context.Context, ws *workspace.Workspace, cfg *config.Config, files *fileset.FileSet, docker bool) error {
	w := render.NewWriter(a.out)
	if !files.Has(fileset.EntrypointPath) {
		w.Warn("no %s to execute", fileset.EntrypointPath)
		return nil
	}
	ok, err := a.prompter.Confirm("Do you want to execute this code?", true)
	if err != nil {
		return fmt.Errorf("confirm (use --yes to skip): %w", err)
	}
	if !ok {
		return nil
	}

	env, err := a.newEnv(ws, cfg, docker)
	if err != nil {
		return err
	}

	res, err := env.Execute(ctx, files, fileset.EntrypointPath)
	if err != nil {
		if res.Duration > 0 {
			w.Run(res)
		}
		return err
	}
	w.Run(res)
	if !res.Success() {
		return &exitError{code: exitFailure, err: fmt.Errorf("%s exited %d", fileset.EntrypointPath, res.ExitCode)}
	}
	return nil
}
