package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/logstore"
	"github.com/joss/genie/internal/provider"
	"github.com/joss/genie/internal/render"
	"github.com/joss/genie/internal/workspace"
	"github.com/joss/genie/pkg/llm"
)

func (a *app) logsCmd() *cobra.Command {
	var archived, full bool
	cmd := &cobra.Command{
		Use:   "logs [project-dir]",
		Short: "Show the model exchanges recorded for a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := a.setup(dirArg(args))
			if err != nil {
				return err
			}
			current := logstore.Dir(ws.MemoryDir())
			dirs := []string{current}
			if archived {
				dirs, err = filepath.Glob(current + "_*")
				if err != nil {
					return err
				}
				sort.Strings(dirs)
			}

			w := render.NewWriter(a.out)
			if len(dirs) == 0 {
				w.Empty("No archived logs.")
				return nil
			}
			for _, d := range dirs {
				entries, err := readEntries(cmd.Context(), d)
				if err != nil {
					return err
				}
				w.Section(filepath.Base(d))
				switch {
				case len(entries) == 0:
					w.Empty("No entries.")
				case full:
					for i := range entries {
						w.Raw(logstore.Transcript(&entries[i]))
					}
				default:
					w.Raw(render.EntriesTable(entries) + "\n")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&archived, "archived", false, "Show archived logs of earlier sessions")
	cmd.Flags().BoolVar(&full, "full", false, "Print full transcripts")
	return cmd
}

func (a *app) costCmd() *cobra.Command {
	var asCSV bool
	cmd := &cobra.Command{
		Use:   "cost [project-dir]",
		Short: "Report token usage and cost of the last session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := a.setup(dirArg(args))
			if err != nil {
				return err
			}
			entries, err := readEntries(cmd.Context(), logstore.Dir(ws.MemoryDir()))
			if err != nil {
				return err
			}

			if asCSV {
				out, err := logstore.UsageCSV(entries)
				if err != nil {
					return err
				}
				fmt.Fprint(a.out, out)
				return nil
			}

			w := render.NewWriter(a.out)
			if len(entries) == 0 {
				w.Empty("No usage recorded.")
				return nil
			}
			var total domain.TokenUsage
			for _, e := range entries {
				total.Add(e.Usage)
			}
			w.Raw(render.EntriesTable(entries) + "\n")
			w.Println("Total: %s tokens, %s", domain.FormatTokens(total.TotalTokens()), domain.FormatCost(total.Cost))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asCSV, "csv", false, "Print one CSV row per step with running totals")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var docker, yes bool
	cmd := &cobra.Command{
		Use:   "run [project-dir]",
		Short: "Execute the project's run.sh",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, cfg, err := a.setup(dirArg(args))
			if err != nil {
				return err
			}
			files, err := ws.Load(workspace.LoadOptions{Exclude: []string{".env"}})
			if err != nil {
				return fmt.Errorf("load project: %w", err)
			}
			a.prompter.AssumeYes = yes
			return a.runEntrypoint(cmd.Context(), ws, cfg, files, docker)
		},
	}
	cmd.Flags().BoolVar(&docker, "docker", false, "Execute in a Docker container")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models [model]",
		Short: "List known models and their prices",
		Long: `List the models of every built-in provider with context size,
vision support and USD price per 1000 tokens. With an argument, show only
the provider that serves that model.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := provider.Registry()
			providers := reg.List()
			if len(args) == 1 {
				p, ok := reg.ForModel(args[0])
				if !ok {
					return fmt.Errorf("unknown model %q", args[0])
				}
				providers = []llm.Provider{p}
			}
			fmt.Fprintln(a.out, render.ModelsTable(providers))
			return nil
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the genie version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "genie %s\n", version)
		},
	}
}

func readEntries(ctx context.Context, dir string) ([]logstore.Entry, error) {
	s, err := logstore.Open(dir)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.List(ctx)
}
