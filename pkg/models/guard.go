package models

import (
	"encoding/json"
	"fmt"
)

// Decision is the terminal outcome of a guarded request.
type Decision string

const (
	DecisionApproved        Decision = "APPROVED"
	DecisionDenied          Decision = "DENIED"
	DecisionPaymentRequired Decision = "PAYMENT_REQUIRED"
)

// ReasonCode is the stable machine-readable part of a decision reason.
type ReasonCode string

const (
	ReasonProviderNotAllowed     ReasonCode = "provider_not_allowed"
	ReasonActionNotAllowed       ReasonCode = "action_not_allowed"
	ReasonTaskNotAllowed         ReasonCode = "task_not_allowed"
	ReasonPriceExceeded          ReasonCode = "price_exceeded"
	ReasonPolicyCheckPassed      ReasonCode = "policy_check_passed"
	ReasonBudgetExceeded         ReasonCode = "budget_exceeded"
	ReasonBudgetCheckPassed      ReasonCode = "budget_check_passed"
	ReasonPaymentRequired        ReasonCode = "x402_payment_required"
	ReasonInvalidPaymentProof    ReasonCode = "invalid_payment_proof"
	ReasonReplayAttack           ReasonCode = "replay_attack"
	ReasonPaymentNotFound        ReasonCode = "payment_not_found"
	ReasonInvalidNonce           ReasonCode = "invalid_nonce"
	ReasonInvalidSignature       ReasonCode = "invalid_signature"
	ReasonInvalidPayer           ReasonCode = "invalid_payer"
	ReasonInsufficientAmount     ReasonCode = "insufficient_amount"
	ReasonPaymentVerified        ReasonCode = "payment_verified"
	ReasonProviderError          ReasonCode = "provider_error"
	ReasonUnexpectedProviderResp ReasonCode = "unexpected_provider_response"
	ReasonProviderNotConfigured  ReasonCode = "provider_not_configured"
	ReasonMissingFields          ReasonCode = "missing_required_fields"
)

// Reason formats "<code>: <detail>", or the bare code when detail is empty.
func Reason(code ReasonCode, detail string) string {
	if detail == "" {
		return string(code)
	}
	return fmt.Sprintf("%s: %s", code, detail)
}

// Request is an agent's request to run a provider action.
type Request struct {
	Provider string          `json:"provider"`
	Action   string          `json:"action"`
	Task     string          `json:"task"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	RunID    string          `json:"run_id,omitempty"`
}

// Missing returns the names of required fields that are empty.
func (r Request) Missing() []string {
	var missing []string
	if r.Provider == "" {
		missing = append(missing, "provider")
	}
	if r.Action == "" {
		missing = append(missing, "action")
	}
	if r.Task == "" {
		missing = append(missing, "task")
	}
	return missing
}

// Result is what the guard returns for every request.
type Result struct {
	Decision           Decision            `json:"decision"`
	Reason             string              `json:"reason"`
	Code               ReasonCode          `json:"code"`
	LogID              string              `json:"log_id,omitempty"`
	PaymentRequirement *PaymentRequirement `json:"x402_payment_required,omitempty"`
	ProviderResponse   *ProviderResult     `json:"provider_response,omitempty"`
}
