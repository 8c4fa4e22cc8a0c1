package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:               "stats [CLUSTER]",
	Short:             "Show attendance aggregates for a cluster (or overall)",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: clusterCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := scopeFromArg(args)
		svc, c, err := newService()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		stats, err := svc.Stats(cmd.Context(), scope)
		if err != nil {
			return err
		}
		label := "overall"
		if stats.Cluster != "" {
			label = string(stats.Cluster)
		}
		fmt.Printf("%s: %d employees, %d recorded, %d present\n",
			label, stats.Employees, stats.Recorded, stats.Present)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
