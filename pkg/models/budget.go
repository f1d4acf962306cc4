package models

// BudgetState is the persisted spend ledger. 0 <= Remaining <= DailyLimit.
type BudgetState struct {
	DailyLimit Amount `json:"daily_limit"`
	Remaining  Amount `json:"remaining"`
}

// BudgetStatus shows current spend against the limit.
type BudgetStatus struct {
	DailyLimit     Amount  `json:"daily_limit"`
	Remaining      Amount  `json:"remaining"`
	Spent          Amount  `json:"spent"`
	PercentageUsed float64 `json:"percentage_used"`
}

// Status derives spend figures from the state.
func (b BudgetState) Status() BudgetStatus {
	spent := b.DailyLimit - b.Remaining
	if spent < 0 {
		spent = 0
	}
	pct := float64(0)
	if b.DailyLimit > 0 {
		pct = float64(spent) / float64(b.DailyLimit) * 100
	}
	return BudgetStatus{
		DailyLimit:     b.DailyLimit,
		Remaining:      b.Remaining,
		Spent:          spent,
		PercentageUsed: pct,
	}
}
