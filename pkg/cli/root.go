// Package cli implements the poetry command line: the API server, a
// terminal reader and version output.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"poetry-feed/pkg/config"
	"poetry-feed/pkg/logger"
)

// Version is set at build time with -ldflags "-X poetry-feed/pkg/cli.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
	debug      bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "poetry",
		Short:         "Persian poetry feed service",
		Long:          "Serves a swipeable feed of Persian poems with bundled fallback content.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is $CONFIG_PATH or ./config.yml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newReadCommand(opts))
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// load reads and validates the configuration and builds the logger.
func (o *rootOptions) load() (*config.Config, logger.Logger, error) {
	path := o.configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if o.debug {
		cfg.Service.Debug = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log.With(logger.String("service", cfg.Service.Name)), nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "poetry version %s\n", Version)
		},
	}
}
