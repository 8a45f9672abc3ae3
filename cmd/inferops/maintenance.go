package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newPurgeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				n, err := a.engine.PurgeExpired(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired entries\n", n)
				return err
			})
		},
	}
}

func newStatsCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				stats, err := a.engine.CacheStatistics(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}
