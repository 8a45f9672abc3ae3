package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/inferops/config"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "inferops",
		Short:        "Cached, circuit-protected text analysis",
		Long:         `Analyze text through an inference provider with a content-addressed result cache, a stampede lock, a circuit breaker and usage accounting.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./inferops.yaml)")

	load := func(cmd *cobra.Command) (*config.Config, error) {
		return config.Load(cmd.Context(), configPath)
	}

	root.AddCommand(
		newAnalyzeCmd(load),
		newBatchCmd(load),
		newPurgeCmd(load),
		newStatsCmd(load),
		newServeCmd(load),
	)
	return root
}

type loadFunc func(cmd *cobra.Command) (*config.Config, error)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
