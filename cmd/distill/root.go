package main

import (
	"context"

	"github.com/spf13/cobra"
)

var configPath string

// Execute runs the CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "distill",
		Short:         "Content distillation and extraction service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")

	root.AddCommand(serveCmd())
	root.AddCommand(crawlCmd())
	root.AddCommand(backfillCmd())
	return root.ExecuteContext(ctx)
}
