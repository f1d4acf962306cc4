package guard

import "errors"

// State is a step in the lifecycle of one guarded request.
type State string

const (
	StateReceived        State = "RECEIVED"
	StatePolicyChecked   State = "POLICY_CHECKED"
	StateBudgetChecked   State = "BUDGET_CHECKED"
	StateQuoting         State = "QUOTING"
	StateVerifying       State = "VERIFYING"
	StateExecuting       State = "EXECUTING"
	StatePaymentRequired State = "PAYMENT_REQUIRED"
	StateApproved        State = "APPROVED"
	StateDenied          State = "DENIED"
)

// ErrInvalidTransition is reported when the pipeline tries an illegal step.
var ErrInvalidTransition = errors.New("invalid guard transition")

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to State) bool {
	switch from {
	case StateReceived:
		return to == StatePolicyChecked
	case StatePolicyChecked:
		return to == StateBudgetChecked || to == StateDenied
	case StateBudgetChecked:
		return to == StateQuoting || to == StateVerifying || to == StateDenied
	case StateQuoting:
		return to == StatePaymentRequired || to == StateDenied
	case StateVerifying:
		return to == StateExecuting || to == StateDenied
	case StateExecuting:
		return to == StateApproved || to == StateDenied
	default:
		return false
	}
}

// IsTerminal reports whether s ends the request.
func IsTerminal(s State) bool {
	switch s {
	case StateApproved, StateDenied, StatePaymentRequired:
		return true
	default:
		return false
	}
}
