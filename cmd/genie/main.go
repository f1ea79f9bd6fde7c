// Package main provides the genie CLI entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joss/genie/internal/config"
	"github.com/joss/genie/internal/exec"
	"github.com/joss/genie/internal/logging"
	"github.com/joss/genie/internal/provider"
	"github.com/joss/genie/internal/render"
	"github.com/joss/genie/internal/runtime"
	"github.com/joss/genie/internal/tui"
	"github.com/joss/genie/internal/workspace"
	"github.com/joss/genie/pkg/llm"
)

var version = "0.1.0"

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitPartial = 2
)

// exitError carries a process exit code. A nil err prints nothing.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// app holds everything a command touches outside the process, so tests can
// swap the provider, the runner and the terminal.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	runner exec.Runner

	newProvider func(cfg *config.Config, azure string) (llm.Provider, error)
	prompter    *tui.Prompter
	// shutdown closes sessions and engines when the command ends.
	shutdown *runtime.ShutdownManager

	verbose bool
	debug   bool
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:          in,
		out:         out,
		errOut:      errOut,
		runner:      exec.Default,
		newProvider: defaultProvider,
		prompter:    tui.New(in, out),
	}
}

func main() {
	os.Exit(newApp(os.Stdin, os.Stdout, os.Stderr).execute(os.Args[1:]))
}

func (a *app) execute(args []string) int {
	a.shutdown = runtime.NewShutdownManager(context.Background(), runtime.DefaultShutdownTimeout)
	stop := a.shutdown.ListenForSignals()
	defer stop()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	err := root.ExecuteContext(a.shutdown.Context())
	if cerr := a.shutdown.Shutdown(); cerr != nil && err == nil {
		err = cerr
	}
	return a.exitCode(err)
}

func (a *app) exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	w := render.NewWriter(a.errOut)
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			w.Error("%v", ee.err)
		}
		return ee.code
	}
	w.Error("%v", err)
	return exitFailure
}

func (a *app) rootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "genie [project-dir]",
		Short: "Generate and improve code with a language model",
		Long: `genie turns a natural-language prompt into a project on disk.

Usage modes:
  genie <dir>             Generate a project from <dir>/prompt
  genie <dir> --improve   Edit the files in <dir> through unified diffs

The prompt is read from the prompt file, or asked for when it is missing.
Exchanges are logged under <dir>/.genie/memory/logs.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMain(cmd, dirArg(args), opts)
		},
	}

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log info events to stderr")
	root.PersistentFlags().BoolVarP(&a.debug, "debug", "d", false, "Log debug events to stderr")

	f := root.Flags()
	f.StringVarP(&opts.model, "model", "m", config.DefaultModel, "Model identifier (env GENIE_MODEL, MODEL_NAME)")
	f.Float64VarP(&opts.temperature, "temperature", "t", 0.1, "Sampling temperature")
	f.BoolVarP(&opts.improve, "improve", "i", false, "Improve the existing project instead of generating")
	f.BoolVarP(&opts.lite, "lite", "l", false, "Send only the file format instructions as system prompt")
	f.BoolVarP(&opts.clarify, "clarify", "c", false, "Let the model ask clarifying questions first")
	f.StringVarP(&opts.azure, "azure", "a", "", "Azure OpenAI endpoint; the model names the deployment")
	f.BoolVar(&opts.noEntrypoint, "no-entrypoint", false, "Skip generating run.sh")
	f.StringVar(&opts.promptFile, "prompt-file", workspace.PromptFile, "Prompt file, relative to the project dir")
	f.StringVar(&opts.imageDir, "image-dir", "", "Directory of images attached to the prompt")
	f.StringSliceVar(&opts.include, "include", nil, "Globs of files to send in improve mode")
	f.StringSliceVar(&opts.exclude, "exclude", nil, "Globs of files to leave out in improve mode")
	f.BoolVar(&opts.run, "run", false, "Execute run.sh after writing the files")
	f.BoolVar(&opts.docker, "docker", false, "Execute run.sh in a Docker container")
	f.BoolVarP(&opts.yes, "yes", "y", false, "Answer yes to every confirmation")

	root.AddCommand(
		a.logsCmd(),
		a.costCmd(),
		a.runCmd(),
		a.modelsCmd(),
		a.versionCmd(),
	)
	return root
}

// setup opens the workspace and loads .env files and configuration.
func (a *app) setup(dir string) (*workspace.Workspace, *config.Config, error) {
	ws, err := workspace.Open(dir)
	if err != nil {
		return nil, nil, err
	}
	if _, err := config.LoadDotEnv(ws.Root); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := logging.ParseLevel(cfg.LogLevel)
	switch {
	case a.debug:
		level = logging.LevelDebug
	case a.verbose:
		level = logging.LevelInfo
	}
	logging.SetLevel(level)
	if config.NoColor() {
		render.DisableColor()
	}
	if err := config.ConfigureTiktokenCache(); err != nil {
		logging.New("cli").Warn("tiktoken_cache", nil, err)
	}
	return ws, cfg, nil
}

func defaultProvider(cfg *config.Config, azure string) (llm.Provider, error) {
	f := provider.NewFactory()
	if azure != "" {
		return f.Create(provider.ProviderAzure,
			provider.WithBaseURL(azure),
			provider.WithDeployment(cfg.Model))
	}
	if cfg.Provider != "" {
		return f.CreateByID(cfg.Provider)
	}
	return f.Create(provider.ForModel(cfg.Model))
}

func dirArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func resolveIn(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
