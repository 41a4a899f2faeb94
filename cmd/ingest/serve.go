package main

import (
	"github.com/spf13/cobra"

	"github.com/ajshedivy/kubeflow-ppc64le-components/api"
)

func newServeCommand(cli *cliContext) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ingest API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory, err := cli.loaderFactory(cmd.Context())
			if err != nil {
				return err
			}

			opts := api.ServerOptions{
				Port:            cli.cfg.Server.Port,
				Prefork:         cli.cfg.Server.Prefork,
				MaxResponseRows: cli.cfg.Server.MaxResponseRows,
				Loaders:         factory,
			}
			if port != "" {
				opts.Port = port
			}
			return api.NewServer(opts).Start()
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides server.port)")
	return cmd
}
