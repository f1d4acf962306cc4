package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/spendguard/pkg/models"
)

func newPolicyCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show and update the spend policy",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(gf, func(ctx context.Context, a admin) error {
				p, err := a.Policy(ctx)
				if err != nil {
					return err
				}
				return printPolicy(os.Stdout, p)
			})
		},
	}

	var (
		maxPrice  string
		providers []string
		actions   []string
		tasks     []string
	)
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Update policy fields; unset flags keep their current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			var u models.PolicyUpdate
			if cmd.Flags().Changed("max-price") {
				price, err := models.ParseAmount(maxPrice)
				if err != nil {
					return err
				}
				u.MaxPricePerCall = &price
			}
			if cmd.Flags().Changed("providers") {
				u.AllowedProviders = providers
			}
			if cmd.Flags().Changed("actions") {
				u.AllowedActions = actions
			}
			if cmd.Flags().Changed("tasks") {
				u.AllowedTasks = tasks
			}

			return withAdmin(gf, func(ctx context.Context, a admin) error {
				p, err := a.UpdatePolicy(ctx, u)
				if err != nil {
					return err
				}
				return printPolicy(os.Stdout, p)
			})
		},
	}
	setCmd.Flags().StringVar(&maxPrice, "max-price", "", "maximum price per call, e.g. 0.05")
	setCmd.Flags().StringSliceVar(&providers, "providers", nil, "allowed providers (comma separated)")
	setCmd.Flags().StringSliceVar(&actions, "actions", nil, "allowed actions (comma separated)")
	setCmd.Flags().StringSliceVar(&tasks, "tasks", nil, "allowed tasks (comma separated)")

	cmd.AddCommand(showCmd, setCmd)
	return cmd
}

func printPolicy(out io.Writer, p models.PolicyConfig) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "MAX PRICE PER CALL\t%s\n", p.MaxPricePerCall.Dollars())
	fmt.Fprintf(w, "ALLOWED PROVIDERS\t%s\n", strings.Join(p.AllowedProviders, ", "))
	fmt.Fprintf(w, "ALLOWED ACTIONS\t%s\n", strings.Join(p.AllowedActions, ", "))
	fmt.Fprintf(w, "ALLOWED TASKS\t%s\n", strings.Join(p.AllowedTasks, ", "))
	return w.Flush()
}
