// Package main provides the entry point for the ingest dataset loading tool.
package main

import (
	"fmt"
	"os"

	"github.com/ajshedivy/kubeflow-ppc64le-components/logger"
)

func main() {
	err := newRootCommand().Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
