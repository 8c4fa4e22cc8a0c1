package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rollcall-project/rollcall/internal/record"
)

var (
	flagMarkEmployee bool
	flagMarkSpouse   bool
	flagMarkKid1     bool
	flagMarkKid2     bool
	flagMarkKid3     bool
	flagMarkBy       string
	flagMarkCluster  string
	flagMarkKidNames []string
)

var markCmd = &cobra.Command{
	Use:   "mark EMPLOYEE_ID",
	Short: "Record attendance for an employee",
	Long: `Mark saves an attendance record for the given employee. The record merges
into whatever the remote store already has: flags you do not set here do not
clear previously saved ones. The local cache is updated write-through.`,
	Args: cobra.ExactArgs(1),
	RunE: runMark,
}

func init() {
	markCmd.Flags().BoolVar(&flagMarkEmployee, "employee", false, "Employee is present")
	markCmd.Flags().BoolVar(&flagMarkSpouse, "spouse", false, "Spouse is present")
	markCmd.Flags().BoolVar(&flagMarkKid1, "kid1", false, "First kid is present")
	markCmd.Flags().BoolVar(&flagMarkKid2, "kid2", false, "Second kid is present")
	markCmd.Flags().BoolVar(&flagMarkKid3, "kid3", false, "Third kid is present")
	markCmd.Flags().StringVar(&flagMarkBy, "by", "", "Who is recording this (required)")
	markCmd.Flags().StringVar(&flagMarkCluster, "cluster", "", "Cluster of the employee")
	markCmd.Flags().StringArrayVar(&flagMarkKidNames, "kid-name", nil,
		"Kid display name as slot=name, e.g. --kid-name kid1=Ama (repeatable)")
	_ = markCmd.MarkFlagRequired("by")
	rootCmd.AddCommand(markCmd)
}

func runMark(cmd *cobra.Command, args []string) error {
	id := args[0]

	kidNames := make(map[string]string, len(flagMarkKidNames))
	for _, pair := range flagMarkKidNames {
		slot, name, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid --kid-name %q, want slot=name", pair)
		}
		kidNames[slot] = name
	}

	rec := record.AttendanceRecord{
		Employee: flagMarkEmployee,
		Spouse:   flagMarkSpouse,
		Kid1:     flagMarkKid1,
		Kid2:     flagMarkKid2,
		Kid3:     flagMarkKid3,
		MarkedBy: flagMarkBy,
		KidNames: kidNames,
	}

	var cluster record.Cluster
	if flagMarkCluster != "" {
		cluster = record.NormalizeCluster(knownClusters(), flagMarkCluster)
	}

	svc, c, err := newService()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := svc.SaveAttendance(cmd.Context(), id, rec, cluster); err != nil {
		return fmt.Errorf("saving attendance for %s: %w", id, err)
	}
	fmt.Printf("recorded attendance for %s (%d/5 present)\n", id, rec.PresentCount())
	return nil
}
