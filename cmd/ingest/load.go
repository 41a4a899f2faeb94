package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ajshedivy/kubeflow-ppc64le-components/logger"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/writers"
)

// LoadOptions represents the options for the load command.
type LoadOptions struct {
	Path         string
	Type         string
	MaxRows      int
	Options      []string
	OptionsFile  string
	OutputPath   string
	OutputFormat string
	Quiet        bool
}

func newLoadCommand(cli *cliContext) *cobra.Command {
	options := &LoadOptions{}

	cmd := &cobra.Command{
		Use:   "load [flags] PATH",
		Short: "Load a dataset and write it out",
		Long: `The load command reads PATH with the loader registered for --type and
writes the table to --output, or to stdout when no output is given.

Loader options are passed with --opt key=value (repeatable) or read from a
YAML mapping with --options-file; --opt wins on conflicts. For example:

  ingest load data.tsv --type csv --opt sep=$'\t' --opt usecols=a,b
  ingest load ./dataset --type huggingface --opt split=train --max-rows 100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Path = args[0]
			if options.OutputFormat == "" {
				options.OutputFormat = cli.cfg.Output.Format
			}
			return runLoad(cmd, cli, options)
		},
	}

	cmd.Flags().StringVarP(&options.Type, "type", "t", "", "Dataset type (csv, json, feather, parquet, df, huggingface)")
	cmd.Flags().IntVarP(&options.MaxRows, "max-rows", "n", 0, "Keep the first N rows (0 keeps all, negative drops rows from the end)")
	cmd.Flags().StringArrayVar(&options.Options, "opt", nil, "Loader option as key=value")
	cmd.Flags().StringVar(&options.OptionsFile, "options-file", "", "YAML file with loader options")
	cmd.Flags().StringVarP(&options.OutputPath, "output", "o", "", "Output path (defaults to stdout)")
	cmd.Flags().StringVarP(&options.OutputFormat, "format", "f", "", "Output format (csv, json, parquet, arrow, huggingface)")
	cmd.Flags().BoolVarP(&options.Quiet, "quiet", "q", false, "Disable the progress spinner")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

// parseLoaderOptions merges the options file with --opt pairs. Keys from the
// file are kept as written, nested maps included. Values from --opt stay
// strings; loaders convert them to the option's type.
func parseLoaderOptions(file string, pairs []string) (core.Options, error) {
	options := core.Options{}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read options file: %w", err)
		}
		if err := yaml.Unmarshal(data, &options); err != nil {
			return nil, fmt.Errorf("failed to parse options file %s: %w", file, err)
		}
		if options == nil {
			options = core.Options{}
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q, expected key=value", pair)
		}
		options[strings.TrimSpace(key)] = value
	}
	return options, nil
}

func runLoad(cmd *cobra.Command, cli *cliContext, options *LoadOptions) error {
	log := logger.GetLogger()

	loaderOptions, err := parseLoaderOptions(options.OptionsFile, options.Options)
	if err != nil {
		return err
	}

	factory, err := cli.loaderFactory(cmd.Context())
	if err != nil {
		return err
	}

	var spin *spinner.Spinner
	if !options.Quiet && isatty.IsTerminal(os.Stderr.Fd()) {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		spin.Suffix = fmt.Sprintf(" Loading %s...", options.Path)
		spin.Start()
	}

	start := time.Now()
	rec, err := factory.Process(cmd.Context(), options.Path, options.Type, loaderOptions, options.MaxRows)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return err
	}
	defer rec.Release()

	log.Info("dataset loaded",
		zap.String("path", options.Path),
		zap.String("type", options.Type),
		zap.Int64("rows", rec.NumRows()),
		zap.Int64("columns", rec.NumCols()),
		zap.Duration("elapsed", time.Since(start)))

	writerConfig := core.WriterConfig{Type: options.OutputFormat, Path: options.OutputPath}
	if options.OutputPath == "" {
		writerConfig.Output = cmd.OutOrStdout()
	}
	if err := writers.DefaultFactory.WriteRecord(cmd.Context(), writerConfig, rec); err != nil {
		return fmt.Errorf("failed to write %s output: %w", options.OutputFormat, err)
	}

	if options.OutputPath != "" {
		log.Info("output written",
			zap.String("path", options.OutputPath),
			zap.String("format", options.OutputFormat))
	}
	return nil
}
