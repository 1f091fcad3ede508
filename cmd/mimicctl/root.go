package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/mimic/internal/client"
)

const (
	defaultURL      = "http://localhost:9080"
	defaultTimeout  = 30 * time.Second
	defaultInterval = time.Second
)

type commandContext struct {
	url      string
	timeout  time.Duration
	interval time.Duration
}

func (c *commandContext) client() (*client.Client, error) {
	return client.New(c.url, client.WithTimeout(c.timeout))
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "mimicctl",
		Short:         "Create and follow persona benchmark pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.url, "url", defaultURL, "Base URL of the mimic service")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", defaultTimeout, "HTTP request timeout")
	rootCmd.PersistentFlags().DurationVar(&ctx.interval, "interval", defaultInterval, "Polling interval while waiting on a stage")

	rootCmd.AddCommand(newCreateCommand(ctx))
	rootCmd.AddCommand(newStageCommand(ctx, "analyze", "Queue persona analysis for a pipeline"))
	rootCmd.AddCommand(newStageCommand(ctx, "evaluate", "Queue model evaluation for a pipeline"))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newProgressCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newResultsCommand(ctx))
	rootCmd.AddCommand(newModelsCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))

	return rootCmd
}
