// Package client calls a SpendGuard server and completes the x402
// payment handshake on the agent's behalf.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/payment"
)

const (
	executePath = "/api/spendguard/execute"
	runIDHeader = "X-RUN-ID"
)

// ErrNoQuote is returned when a PAYMENT_REQUIRED response carries no terms.
var ErrNoQuote = errors.New("payment required but no quote returned")

// Client talks to one SpendGuard server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Signer pays quotes in ExecutePaid. Defaults to payment.MockSigner.
	Signer payment.Signer
	// AdminToken is sent as a bearer token on admin calls.
	AdminToken string
}

// New returns a Client for baseURL with a 30s timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-decision response from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spendguard: status %d: %s", e.StatusCode, e.Body)
}

// Execute submits req once. proofHeader may be empty for the first attempt.
// Any response carrying a decision is returned as a Result, denials included.
func (c *Client) Execute(ctx context.Context, req models.Request, proofHeader string) (*models.Result, error) {
	headers := map[string]string{}
	if proofHeader != "" {
		headers[payment.HeaderName] = proofHeader
	}
	if req.RunID != "" {
		headers[runIDHeader] = req.RunID
	}

	status, body, err := c.do(ctx, http.MethodPost, executePath, req, headers)
	if err != nil {
		return nil, err
	}
	var res models.Result
	if err := json.Unmarshal(body, &res); err != nil || res.Decision == "" {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}
	if status == http.StatusBadRequest || status >= http.StatusInternalServerError {
		return &res, &APIError{StatusCode: status, Body: res.Reason}
	}
	return &res, nil
}

// ExecutePaid runs the decide, pay, run loop: it submits req, and when the
// guard asks for payment it signs the quote and retries once with the proof.
func (c *Client) ExecutePaid(ctx context.Context, req models.Request) (*models.Result, error) {
	res, err := c.Execute(ctx, req, "")
	if err != nil || res.Decision != models.DecisionPaymentRequired {
		return res, err
	}
	if res.PaymentRequirement == nil {
		return res, ErrNoQuote
	}

	header, err := SignProof(c.signer(), *res.PaymentRequirement)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, req, header)
}

// SignProof pays quote with s and returns the X-PAYMENT-PROOF header value.
func SignProof(s payment.Signer, quote models.PaymentRequirement) (string, error) {
	proof, err := s.Sign(quote)
	if err != nil {
		return "", fmt.Errorf("sign quote: %w", err)
	}
	return payment.EncodeProofHeader(proof)
}

// Budget returns the server's spend status.
func (c *Client) Budget(ctx context.Context) (models.BudgetStatus, error) {
	var st models.BudgetStatus
	err := c.getJSON(ctx, "/api/budget", &st)
	return st, err
}

// ResetBudget restores remaining to the daily limit.
func (c *Client) ResetBudget(ctx context.Context) error {
	return c.admin(ctx, http.MethodPost, "/api/budget", map[string]string{"action": "reset"})
}

// SetDailyLimit changes the limit and resets remaining to it.
func (c *Client) SetDailyLimit(ctx context.Context, limit models.Amount) error {
	return c.admin(ctx, http.MethodPost, "/api/budget", map[string]any{"action": "set_limit", "daily_limit": limit})
}

// Policy returns the active policy.
func (c *Client) Policy(ctx context.Context) (models.PolicyConfig, error) {
	var p models.PolicyConfig
	err := c.getJSON(ctx, "/api/policy", &p)
	return p, err
}

// UpdatePolicy applies a partial policy change and returns the result.
func (c *Client) UpdatePolicy(ctx context.Context, u models.PolicyUpdate) (models.PolicyConfig, error) {
	var p models.PolicyConfig
	status, body, err := c.do(ctx, http.MethodPatch, "/api/policy", u, c.authHeaders())
	if err != nil {
		return p, err
	}
	if status != http.StatusOK {
		return p, &APIError{StatusCode: status, Body: string(body)}
	}
	return p, json.Unmarshal(body, &p)
}

// Logs is the audit listing with its aggregate stats.
type Logs struct {
	Logs  []models.AuditLogEntry `json:"logs"`
	Stats models.LogStats        `json:"stats"`
}

// AuditLogs returns up to limit newest entries; 0 uses the server default.
func (c *Client) AuditLogs(ctx context.Context, limit int) (Logs, error) {
	var l Logs
	path := "/api/logs"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	err := c.getJSON(ctx, path, &l)
	return l, err
}

// ClearLogs empties the audit log.
func (c *Client) ClearLogs(ctx context.Context) error {
	return c.admin(ctx, http.MethodDelete, "/api/logs", nil)
}

// ClearNonces forgets consumed nonces and pending quotes.
func (c *Client) ClearNonces(ctx context.Context) error {
	return c.admin(ctx, http.MethodDelete, "/api/spendguard/nonces", nil)
}

// ClearAll resets logs, budget, policy, nonces and pending quotes.
func (c *Client) ClearAll(ctx context.Context) error {
	return c.admin(ctx, http.MethodDelete, "/api/spendguard/clear", nil)
}

func (c *Client) signer() payment.Signer {
	if c.Signer == nil {
		return payment.MockSigner{}
	}
	return c.Signer
}

func (c *Client) authHeaders() map[string]string {
	if c.AdminToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.AdminToken}
}

func (c *Client) admin(ctx context.Context, method, path string, body any) error {
	status, data, err := c.do(ctx, method, path, body, c.authHeaders())
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &APIError{StatusCode: status, Body: string(data)}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	status, data, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &APIError{StatusCode: status, Body: string(data)}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
