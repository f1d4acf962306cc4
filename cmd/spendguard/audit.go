package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/spendguard/pkg/audit"
	"github.com/pario-ai/spendguard/pkg/models"
)

func newAuditCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the decision audit log",
	}

	var limit int
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "List recent decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			return withAdmin(gf, func(ctx context.Context, a admin) error {
				l, err := a.AuditLogs(ctx, limit)
				if err != nil {
					return err
				}
				return printAuditEntries(os.Stdout, l.Logs)
			})
		},
	}
	logsCmd.Flags().IntVar(&limit, "limit", audit.DefaultListLimit, "max entries to return")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show decision counts over the retained log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(gf, func(ctx context.Context, a admin) error {
				l, err := a.AuditLogs(ctx, 1)
				if err != nil {
					return err
				}
				return printAuditStats(os.Stdout, l.Stats)
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all audit entries and restart ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(gf, func(ctx context.Context, a admin) error {
				if err := a.ClearLogs(ctx); err != nil {
					return err
				}
				fmt.Println("Audit log cleared.")
				return nil
			})
		},
	}

	cmd.AddCommand(logsCmd, statsCmd, clearCmd)
	return cmd
}

func printAuditEntries(out io.Writer, entries []models.AuditLogEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No audit entries found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tPROVIDER\tACTION\tTASK\tDECISION\tCOST\tRUN\tREASON")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Provider, e.Action, e.Task, e.Decision, e.Cost.Dollars(), e.RunID, e.Reason)
	}
	return w.Flush()
}

func printAuditStats(out io.Writer, s models.LogStats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOTAL\tAPPROVED\tDENIED\tPAYMENT REQUIRED")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", s.Total, s.Approved, s.Denied, s.PaymentRequired)
	return w.Flush()
}
