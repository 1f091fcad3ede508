package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/okian/mimic/internal/client"
	"github.com/okian/mimic/internal/domain/model"
)

var errNoModels = errors.New("at least one --model is required")

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var transcriptPath string
	var models []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Upload a transcript and the models to benchmark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(models) == 0 {
				return errNoModels
			}
			f, err := os.Open(transcriptPath)
			if err != nil {
				return fmt.Errorf("open transcript: %w", err)
			}
			defer func() { _ = f.Close() }()

			c, err := ctx.client()
			if err != nil {
				return err
			}
			created, err := c.Upload(cmd.Context(), filepath.Base(transcriptPath), f, models)
			if err != nil {
				return fmt.Errorf("create pipeline: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), created.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&transcriptPath, "transcript", "t", "", "Transcript file")
	cmd.Flags().StringArrayVarP(&models, "model", "m", nil, "Model to benchmark (repeatable)")
	_ = cmd.MarkFlagRequired("transcript")
	return cmd
}

func newStageCommand(ctx *commandContext, stage, short string) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   stage + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			id := args[0]
			trigger, want := c.Analyze, model.StatusAnalyzed
			if stage == string(model.StageEvaluate) {
				trigger, want = c.Evaluate, model.StatusComplete
			}
			if err := trigger(cmd.Context(), id); err != nil {
				return fmt.Errorf("%s %s: %w", stage, id, err)
			}
			if !wait {
				fmt.Fprintf(cmd.OutOrStdout(), "%s queued for %s\n", stage, id)
				return nil
			}
			p, err := c.WaitFor(cmd.Context(), id, want, ctx.interval, progressPrinter(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s finished: %s\n", stage, p.Status)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the stage finishes")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel the stage running for a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			if err := c.Cancel(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("cancel %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func newProgressCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "progress ID",
		Short: "Show the progress of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			prog, err := c.Progress(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("progress %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatProgress(prog))
			return nil
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print a pipeline as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			p, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("show %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipelines, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			list, err := c.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list pipelines: %w", err)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pipelines")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPipelines(list))
			return nil
		},
	}
}

func newResultsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "results ID",
		Short: "Show evaluation scores as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			p, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("results %s: %w", args[0], err)
			}
			printResults(cmd, p)
			return nil
		},
	}
}

func newModelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the service offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			models, err := c.Models(cmd.Context())
			if err != nil {
				return fmt.Errorf("list models: %w", err)
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var transcriptPath string
	var models []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a pipeline, run both stages and print the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(models) == 0 {
				return errNoModels
			}
			transcript, err := os.ReadFile(transcriptPath)
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			c, err := ctx.client()
			if err != nil {
				return err
			}
			p, err := c.Run(cmd.Context(), client.RunConfig{
				Transcript: string(transcript),
				Models:     models,
				Interval:   ctx.interval,
				OnProgress: func(prog model.Progress) {
					fmt.Fprintln(cmd.ErrOrStderr(), formatProgress(prog))
				},
			})
			if err != nil {
				return err
			}
			printResults(cmd, p)
			return nil
		},
	}
	cmd.Flags().StringVarP(&transcriptPath, "transcript", "t", "", "Transcript file")
	cmd.Flags().StringArrayVarP(&models, "model", "m", nil, "Model to benchmark (repeatable)")
	_ = cmd.MarkFlagRequired("transcript")
	return cmd
}

func progressPrinter(cmd *cobra.Command) func(*model.Pipeline) {
	var last model.Progress
	return func(p *model.Pipeline) {
		prog := model.ProgressOf(p)
		if prog != last {
			last = prog
			fmt.Fprintln(cmd.ErrOrStderr(), formatProgress(prog))
		}
	}
}

func printResults(cmd *cobra.Command, p *model.Pipeline) {
	out := cmd.OutOrStdout()
	if len(p.EvaluationResults) == 0 {
		fmt.Fprintf(out, "No results yet (status %s)\n", p.Status)
		return
	}
	fmt.Fprintln(out, renderResults(p))
	if p.BestModel != nil {
		fmt.Fprintf(out, "Best model: %s\n", *p.BestModel)
	}
	if p.JudgeComments != nil && *p.JudgeComments != "" {
		fmt.Fprintf(out, "Judge: %s\n", *p.JudgeComments)
	}
}
