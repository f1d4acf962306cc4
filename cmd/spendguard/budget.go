package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/spendguard/pkg/models"
)

func newBudgetCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show and manage the daily spend budget",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show spend against the daily limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(gf, func(ctx context.Context, a admin) error {
				st, err := a.Budget(ctx)
				if err != nil {
					return err
				}
				return printBudget(os.Stdout, st)
			})
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Restore the remaining budget to the daily limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(gf, func(ctx context.Context, a admin) error {
				if err := a.ResetBudget(ctx); err != nil {
					return err
				}
				fmt.Println("Budget reset to daily limit.")
				return nil
			})
		},
	}

	setLimitCmd := &cobra.Command{
		Use:   "set-limit <amount>",
		Short: "Set the daily limit and reset the remaining budget to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := models.ParseAmount(args[0])
			if err != nil {
				return err
			}
			if limit < 0 {
				return fmt.Errorf("daily limit must not be negative")
			}
			return withAdmin(gf, func(ctx context.Context, a admin) error {
				if err := a.SetDailyLimit(ctx, limit); err != nil {
					return err
				}
				fmt.Printf("Daily limit set to %s.\n", limit.Dollars())
				return nil
			})
		},
	}

	cmd.AddCommand(statusCmd, resetCmd, setLimitCmd)
	return cmd
}

func printBudget(out io.Writer, st models.BudgetStatus) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DAILY LIMIT\tREMAINING\tSPENT\tUSED")
	fmt.Fprintf(w, "%s\t%s\t%s\t%.1f%%\n",
		st.DailyLimit.Dollars(), st.Remaining.Dollars(), st.Spent.Dollars(), st.PercentageUsed)
	return w.Flush()
}

// withAdmin opens the admin surface for one command and closes it after.
func withAdmin(gf *globalFlags, fn func(ctx context.Context, a admin) error) error {
	ctx := context.Background()
	a, cleanup, err := openAdmin(ctx, gf)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, a)
}
