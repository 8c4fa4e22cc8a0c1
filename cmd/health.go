package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the remote store and print the round-trip time",
	RunE: func(cmd *cobra.Command, _ []string) error {
		gw, err := newGateway()
		if err != nil {
			return err
		}
		rtt, err := gw.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("remote store unreachable: %w", err)
		}
		fmt.Printf("ok (%s)\n", rtt.Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
