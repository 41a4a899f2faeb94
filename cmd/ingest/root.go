package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajshedivy/kubeflow-ppc64le-components/config"
	"github.com/ajshedivy/kubeflow-ppc64le-components/logger"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/loaders"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/storage"
	"github.com/ajshedivy/kubeflow-ppc64le-components/version"
)

// cliContext carries the global flags and the configuration they produce.
type cliContext struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	cli := &cliContext{}

	rootCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load datasets into Arrow tables",
		Long: `ingest loads a dataset from a local path or s3:// URI with one of the
registered loaders (csv, json, feather, parquet, df, huggingface) and
writes the resulting table as csv, json, parquet, arrow or a dataset directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.setup()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cli.configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&cli.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newLoadCommand(cli))
	rootCmd.AddCommand(newFormatsCommand())
	rootCmd.AddCommand(newServeCommand(cli))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version of ingest",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ingest %s (built %s)\n", version.GetVersion(), version.GetBuildDate())
		},
	})

	return rootCmd
}

// setup loads the configuration and initializes logging.
func (c *cliContext) setup() error {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.SetLogPath(cfg.Log.File)
	logger.InitLogger()
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// loaderFactory builds a loader factory whose storage follows the configuration.
func (c *cliContext) loaderFactory(ctx context.Context) (*loaders.Factory, error) {
	resolver, err := storage.NewResolverFromConfig(ctx, c.cfg.Storage)
	if err != nil {
		return nil, err
	}
	return loaders.NewDefaultFactory(loaders.WithStorage(resolver)), nil
}
