package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pario-ai/spendguard/pkg/guard"
	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/payment"
)

type executeArgs struct {
	Provider     string          `json:"provider"`
	Action       string          `json:"action"`
	Task         string          `json:"task"`
	Payload      json.RawMessage `json:"payload"`
	RunID        string          `json:"run_id"`
	PaymentProof string          `json:"payment_proof"`
	AutoPay      bool            `json:"auto_pay"`
}

type limitArgs struct {
	Limit int `json:"limit"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"spendguard_execute":    handleExecute,
	"spendguard_budget":     handleBudget,
	"spendguard_policy":     handlePolicy,
	"spendguard_audit_logs": handleAuditLogs,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name: "spendguard_execute",
		Description: "Run a paid provider action through the spend guard. Without payment_proof the guard " +
			"returns PAYMENT_REQUIRED with a quote; retry with the base64 proof to execute.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"provider", "action", "task"},
			"properties": map[string]any{
				"provider": map[string]any{"type": "string", "description": "Provider name, e.g. email"},
				"action":   map[string]any{"type": "string", "description": "Action, e.g. send"},
				"task":     map[string]any{"type": "string", "description": "Task the spend is attributed to"},
				"payload":  map[string]any{"type": "object", "description": "Provider payload"},
				"run_id":   map[string]any{"type": "string", "description": "Caller run id for the audit log (optional)"},
				"payment_proof": map[string]any{
					"type":        "string",
					"description": "Base64 payment proof for a previously quoted nonce (optional)",
				},
				"auto_pay": map[string]any{
					"type":        "boolean",
					"description": "Sign the quote and retry in one call (optional)",
				},
			},
		},
	},
	{
		Name:        "spendguard_budget",
		Description: "Show the daily budget: limit, remaining, spent and percentage used.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "spendguard_policy",
		Description: "Show the active spend policy: price cap and provider, action and task allowlists.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "spendguard_audit_logs",
		Description: "List recent guard decisions, newest first, with aggregate stats.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum entries to return (optional, default 50)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleExecute(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args executeArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}
	req := models.Request{
		Provider: args.Provider,
		Action:   args.Action,
		Task:     args.Task,
		Payload:  args.Payload,
		RunID:    args.RunID,
	}

	res, err := s.guard.Execute(ctx, req, args.PaymentProof)
	if err != nil {
		return executeError(err)
	}
	if args.AutoPay && args.PaymentProof == "" && res.Decision == models.DecisionPaymentRequired {
		if s.signer == nil {
			return errorResult("auto_pay is not configured")
		}
		proof, err := s.signer.Sign(*res.PaymentRequirement)
		if err != nil {
			return errorResult("Error signing quote: " + err.Error())
		}
		header, err := payment.EncodeProofHeader(proof)
		if err != nil {
			return errorResult(err.Error())
		}
		if res, err = s.guard.Execute(ctx, req, header); err != nil {
			return executeError(err)
		}
	}

	out := textResult(formatResult(res))
	out.IsError = res.Decision == models.DecisionDenied
	return out
}

func executeError(err error) ToolCallResult {
	if errors.Is(err, guard.ErrInvalidRequest) {
		return errorResult("provider, action and task are required")
	}
	return errorResult("Error executing request: " + err.Error())
}

func handleBudget(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	st, err := s.guard.Budget.Status(ctx)
	if err != nil {
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudget(st))
}

func handlePolicy(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	p, err := s.guard.Policy.Get(ctx)
	if err != nil {
		return errorResult("Error fetching policy: " + err.Error())
	}
	return textResult(formatPolicy(p))
}

func handleAuditLogs(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args limitArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Limit < 0 {
		return errorResult("limit must not be negative")
	}
	entries, err := s.guard.Audit.Logs(ctx, args.Limit)
	if err != nil {
		return errorResult("Error fetching audit logs: " + err.Error())
	}
	stats, err := s.guard.Audit.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching audit stats: " + err.Error())
	}
	return textResult(formatAuditEntries(entries, stats))
}
