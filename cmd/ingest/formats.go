package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/loaders"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/writers"
)

func newFormatsCommand() *cobra.Command {
	var writable bool

	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List the dataset types that can be loaded",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if writable {
				for _, typ := range writers.DefaultFactory.Types() {
					fmt.Fprintln(cmd.OutOrStdout(), typ)
				}
				return
			}
			for _, format := range loaders.DefaultFactory.Formats() {
				fmt.Fprintln(cmd.OutOrStdout(), format)
			}
		},
	}

	cmd.Flags().BoolVar(&writable, "output", false, "List output formats instead")
	return cmd
}
