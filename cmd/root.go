// Package cmd defines the auditworker CLI.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lalchand07/Auditly/internal/config"
	"github.com/lalchand07/Auditly/internal/server"
)

// App is the part of server.App the commands drive. Tests inject fakes.
type App interface {
	Run(ctx context.Context) error
	Tick(ctx context.Context) (bool, error)
	Close(ctx context.Context) error
}

// buildApp is the application factory, swapped out in tests.
var buildApp = func(ctx context.Context, cfg config.Config, opts ...server.Option) (App, error) {
	return server.Build(ctx, cfg, opts...)
}

type rootOptions struct {
	configPath string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "auditworker",
		Short: "Auditly website audit scan worker",
		Long: `auditworker leases pending scan jobs, audits the target site in a
headless browser, renders a PDF report and records the outcome.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newWorkerCmd(opts))
	cmd.AddCommand(newScanCmd(opts))
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
