package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/guard"
	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/payment"
	"github.com/pario-ai/spendguard/pkg/store/memory"
)

func newServer(t *testing.T, signer payment.Signer) *Server {
	t.Helper()
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g, err := guard.NewFromConfig(context.Background(), cfg, memory.New(cfg.Audit.MaxEntries), guard.Options{Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	return New(g, signer, logger, "test")
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

const welcomeArgs = `{"provider":"email","action":"send","task":"welcome_flow","payload":{"to":"a@example.com","subject":"hi"}`

func TestInitialize(t *testing.T) {
	srv := newServer(t, nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %s, want 2024-11-05", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "spendguard" {
		t.Errorf("server name = %s, want spendguard", result.ServerInfo.Name)
	}
}

func TestToolsList(t *testing.T) {
	srv := newServer(t, nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	json.Unmarshal(data, &result)

	if len(result.Tools) != 4 {
		t.Errorf("got %d tools, want 4", len(result.Tools))
	}
	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"spendguard_execute", "spendguard_budget", "spendguard_policy", "spendguard_audit_logs"} {
		if !names[want] {
			t.Errorf("missing tool: %s", want)
		}
	}
}

func TestExecuteQuoteThenProof(t *testing.T) {
	srv := newServer(t, nil)

	result := callTool(t, srv, "spendguard_execute", welcomeArgs+`}`)
	text := result.Content[0].Text
	if result.IsError || !strings.Contains(text, "PAYMENT_REQUIRED") {
		t.Fatalf("expected quote, got: %s", text)
	}

	// Pull the quote back out of the rendered text and pay it.
	_, quoteJSON, ok := strings.Cut(text, "Quote:    ")
	if !ok {
		t.Fatalf("no quote in: %s", text)
	}
	quoteJSON, _, _ = strings.Cut(quoteJSON, "\n")
	var q models.PaymentRequirement
	if err := json.Unmarshal([]byte(quoteJSON), &q); err != nil {
		t.Fatal(err)
	}
	proof, err := payment.MockSigner{}.Sign(q)
	if err != nil {
		t.Fatal(err)
	}
	header, err := payment.EncodeProofHeader(proof)
	if err != nil {
		t.Fatal(err)
	}

	result = callTool(t, srv, "spendguard_execute", welcomeArgs+`,"payment_proof":"`+header+`"}`)
	if result.IsError || !strings.Contains(result.Content[0].Text, "APPROVED") {
		t.Errorf("expected approval, got: %s", result.Content[0].Text)
	}
}

func TestExecuteAutoPay(t *testing.T) {
	srv := newServer(t, payment.MockSigner{})

	result := callTool(t, srv, "spendguard_execute", welcomeArgs+`,"auto_pay":true}`)
	text := result.Content[0].Text
	if result.IsError || !strings.Contains(text, "APPROVED") || !strings.Contains(text, "email_1") {
		t.Errorf("expected approval with receipt, got: %s", text)
	}

	budget := callTool(t, srv, "spendguard_budget", `{}`)
	if !strings.Contains(budget.Content[0].Text, "$0.9990") {
		t.Errorf("expected remaining $0.9990, got: %s", budget.Content[0].Text)
	}
}

func TestExecuteAutoPayNotConfigured(t *testing.T) {
	srv := newServer(t, nil)
	result := callTool(t, srv, "spendguard_execute", welcomeArgs+`,"auto_pay":true}`)
	if !result.IsError {
		t.Errorf("expected isError=true, got: %s", result.Content[0].Text)
	}
}

func TestExecuteDeniedIsError(t *testing.T) {
	srv := newServer(t, nil)
	result := callTool(t, srv, "spendguard_execute", `{"provider":"sms","action":"send","task":"welcome_flow"}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "provider_not_allowed") {
		t.Errorf("expected provider denial, got: %s", result.Content[0].Text)
	}
}

func TestExecuteMissingFields(t *testing.T) {
	srv := newServer(t, nil)
	result := callTool(t, srv, "spendguard_execute", `{"provider":"email"}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "required") {
		t.Errorf("expected missing fields error, got: %s", result.Content[0].Text)
	}
}

func TestPolicyTool(t *testing.T) {
	srv := newServer(t, nil)
	text := callTool(t, srv, "spendguard_policy", `{}`).Content[0].Text
	for _, want := range []string{"$0.5000", "email", "send", "welcome_flow"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in policy output, got: %s", want, text)
		}
	}
}

func TestAuditLogsTool(t *testing.T) {
	srv := newServer(t, nil)
	callTool(t, srv, "spendguard_execute", welcomeArgs+`}`)
	callTool(t, srv, "spendguard_execute", `{"provider":"email","action":"delete","task":"welcome_flow"}`)

	text := callTool(t, srv, "spendguard_audit_logs", `{"limit":1}`).Content[0].Text
	if !strings.Contains(text, "log_2") || strings.Contains(text, "log_1 ") {
		t.Errorf("expected only log_2, got: %s", text)
	}
	if !strings.Contains(text, "Total: 2  Approved: 0  Denied: 1  Payment required: 1") {
		t.Errorf("unexpected stats: %s", text)
	}

	if r := callTool(t, srv, "spendguard_audit_logs", `{"limit":-1}`); !r.IsError {
		t.Error("expected isError=true for negative limit")
	}
}

func TestAuditLogsEmpty(t *testing.T) {
	srv := newServer(t, nil)
	text := callTool(t, srv, "spendguard_audit_logs", ``).Content[0].Text
	if !strings.Contains(text, "No audit entries found.") {
		t.Errorf("unexpected output: %s", text)
	}
}

func TestUnknownTool(t *testing.T) {
	srv := newServer(t, nil)
	if r := callTool(t, srv, "pario_stats", `{}`); !r.IsError {
		t.Error("expected isError=true for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := newServer(t, nil)

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestParseError(t *testing.T) {
	srv := newServer(t, nil)
	var out bytes.Buffer
	_ = srv.Run(context.Background(), strings.NewReader("{nope\n"), &out)

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := newServer(t, nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestPing(t *testing.T) {
	srv := newServer(t, nil)
	resp := sendAndReceive(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`"p"`), Method: "ping"})
	if resp.Error != nil || string(resp.ID) != `"p"` {
		t.Errorf("unexpected ping response: %+v", resp)
	}
}
