package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pario-ai/spendguard/pkg/models"
)

// formatResult renders a guard decision. The quote is included verbatim so
// the agent can sign it.
func formatResult(res *models.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Decision: %s\n", res.Decision)
	fmt.Fprintf(&b, "Reason:   %s\n", res.Reason)
	if res.LogID != "" {
		fmt.Fprintf(&b, "Log ID:   %s\n", res.LogID)
	}
	if q := res.PaymentRequirement; q != nil {
		data, _ := json.Marshal(q)
		fmt.Fprintf(&b, "Quote:    %s\n", data)
	}
	if pr := res.ProviderResponse; pr != nil {
		if pr.Success {
			fmt.Fprintf(&b, "Provider: %s\n", pr.Data)
		} else {
			fmt.Fprintf(&b, "Provider error: %s\n", pr.Error)
		}
	}
	return b.String()
}

// formatBudget formats budget status as text.
func formatBudget(st models.BudgetStatus) string {
	return fmt.Sprintf("Daily Budget\n"+
		"  Limit:     %s\n"+
		"  Remaining: %s\n"+
		"  Spent:     %s\n"+
		"  Used:      %.1f%%\n",
		st.DailyLimit.Dollars(), st.Remaining.Dollars(), st.Spent.Dollars(), st.PercentageUsed)
}

// formatPolicy formats the active policy as text.
func formatPolicy(p models.PolicyConfig) string {
	list := func(v []string) string {
		if len(v) == 0 {
			return "(none)"
		}
		return strings.Join(v, ", ")
	}
	return fmt.Sprintf("Spend Policy\n"+
		"  Max price per call: %s\n"+
		"  Providers:          %s\n"+
		"  Actions:            %s\n"+
		"  Tasks:              %s\n",
		p.MaxPricePerCall.Dollars(), list(p.AllowedProviders), list(p.AllowedActions), list(p.AllowedTasks))
}

// formatAuditEntries formats audit entries as a text table followed by stats.
func formatAuditEntries(entries []models.AuditLogEntry, stats models.LogStats) string {
	var b strings.Builder
	if len(entries) == 0 {
		b.WriteString("No audit entries found.\n")
	} else {
		fmt.Fprintf(&b, "%-10s %-20s %-10s %-8s %-14s %-17s %10s  %s\n",
			"ID", "Time", "Provider", "Action", "Task", "Decision", "Cost", "Reason")
		b.WriteString(strings.Repeat("-", 120) + "\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "%-10s %-20s %-10s %-8s %-14s %-17s %10s  %s\n",
				e.ID,
				e.Timestamp.Format("2006-01-02 15:04:05"),
				e.Provider, e.Action, e.Task, e.Decision, e.Cost.Dollars(), e.Reason)
		}
	}
	fmt.Fprintf(&b, "\nTotal: %d  Approved: %d  Denied: %d  Payment required: %d\n",
		stats.Total, stats.Approved, stats.Denied, stats.PaymentRequired)
	return b.String()
}
