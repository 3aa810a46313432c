package main

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stefando/scormhost/internal/app"
	"github.com/stefando/scormhost/internal/config"
	"github.com/stefando/scormhost/internal/logging"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	envFile string
}

// NewRootCommand returns the root command with all subcommands attached.
func NewRootCommand(fs afero.Fs, ctx context.Context, logger *logging.Logger) *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "scormd",
		Short: "Host SCORM packages and track learner status.",
		Long: `scormd receives SCORM package archives in chunks, publishes their files to
the configured content store and aggregates the status documents learners submit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env",
		"dotenv file read before the process environment")

	rootCmd.AddCommand(NewServeCommand(fs, ctx, opts, logger))
	rootCmd.AddCommand(NewImportCommand(fs, ctx, opts, logger))
	rootCmd.AddCommand(NewConfigureCommand(fs, ctx, opts, logger))
	return rootCmd
}

// build loads configuration and wires the services.
func (o *rootOptions) build(ctx context.Context, fs afero.Fs, logger *logging.Logger) (*app.App, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return app.Build(ctx, cfg, fs, logger)
}
