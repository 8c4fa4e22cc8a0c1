package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rollcall-project/rollcall/internal/record"
	"github.com/rollcall-project/rollcall/internal/service"
)

var (
	flagListRefresh bool
	flagListWait    time.Duration
)

var listCmd = &cobra.Command{
	Use:               "list [CLUSTER]",
	Short:             "Show employees and attendance for a cluster (or everything)",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: clusterCompletion,
	RunE:              runList,
}

func init() {
	listCmd.Flags().BoolVarP(&flagListRefresh, "refresh", "r", false,
		"Bypass the cache and always fetch from the remote store")
	listCmd.Flags().DurationVar(&flagListWait, "wait", 15*time.Second,
		"How long to wait for the background refresh after a cached answer")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	scope := scopeFromArg(args)

	svc, c, err := newService()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	fresh := make(chan []record.Row, 1)
	failed := make(chan error, 1)
	rows, cached, err := svc.Roster(cmd.Context(), scope, service.QueryOptions{
		ForceRefresh: flagListRefresh,
		OnFresh: func(r []record.Row) {
			select {
			case fresh <- r:
			default:
			}
		},
		OnError: func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	printRows(rows)

	if !cached {
		return nil
	}
	if last := svc.LastSync(cmd.Context(), scope); !last.IsZero() {
		fmt.Printf("\ncached data, last synced %s; refreshing...\n", humanize.Time(last))
	} else {
		fmt.Println("\ncached data, refreshing...")
	}
	select {
	case r := <-fresh:
		fmt.Println()
		printRows(r)
	case err := <-failed:
		fmt.Printf("refresh failed (%v), keeping cached view\n", err)
	case <-flagListWaitTimer():
		fmt.Println("refresh still pending, keeping cached view")
	case <-cmd.Context().Done():
	}
	return nil
}

func flagListWaitTimer() <-chan time.Time {
	if flagListWait <= 0 {
		ch := make(chan time.Time)
		return ch // never fires; rely on ctx
	}
	return time.After(flagListWait)
}

func printRows(rows []record.Row) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCLUSTER\tPRESENT\tMARKED BY\tMARKED")
	for _, row := range rows {
		status, by, when := "-", "", ""
		if a := row.Attendance; a != nil {
			status = fmt.Sprintf("%d/5", a.PresentCount())
			by = a.MarkedBy
			when = humanize.Time(a.MarkedAt)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			row.ID, row.Name, row.Cluster, status, by, when)
	}
	_ = w.Flush()
}
