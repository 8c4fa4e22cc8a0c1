package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Operate on the local cache",
}

var cacheClearCmd = &cobra.Command{
	Use:               "clear [CLUSTER]",
	Short:             "Drop cached data for a cluster, or everything",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: clusterCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCache()
		defer func() { _ = c.Close() }()

		scope := scopeFromArg(args)
		if cluster, ok := scope.Cluster(); ok {
			c.ClearCluster(cmd.Context(), cluster)
			fmt.Printf("cleared cluster %s\n", cluster)
			return nil
		}
		c.ClearAll(cmd.Context())
		fmt.Println("cleared everything")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
