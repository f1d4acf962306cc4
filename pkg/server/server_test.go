package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/guard"
	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/payment"
	"github.com/pario-ai/spendguard/pkg/store/memory"
	"github.com/pario-ai/spendguard/pkg/store/sqlstore"
)

const testSecret = "test-admin-secret"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupServer(t *testing.T, mutate ...func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	g, err := guard.NewFromConfig(context.Background(), cfg, memory.New(cfg.Audit.MaxEntries), guard.Options{Logger: discard})
	require.NoError(t, err)

	ts := httptest.NewServer(New(cfg, g, discard))
	t.Cleanup(ts.Close)
	return ts
}

func welcomeRequest() models.Request {
	return models.Request{
		Provider: "email",
		Action:   "send",
		Task:     "welcome_flow",
		Payload:  json.RawMessage(`{"to":"a@example.com","subject":"hi"}`),
	}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func executeURL(ts *httptest.Server) string { return ts.URL + "/api/spendguard/execute" }

// pay quotes req, signs the quote and returns the proof header.
func pay(t *testing.T, ts *httptest.Server, req models.Request) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, executeURL(ts), req, nil)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode, string(body))

	var res models.Result
	require.NoError(t, json.Unmarshal(body, &res))
	require.NotNil(t, res.PaymentRequirement)

	proof, err := payment.MockSigner{}.Sign(*res.PaymentRequirement)
	require.NoError(t, err)
	header, err := payment.EncodeProofHeader(proof)
	require.NoError(t, err)
	return header
}

func TestHealth(t *testing.T) {
	ts := setupServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestExecuteQuoteThenPay(t *testing.T) {
	ts := setupServer(t)
	req := welcomeRequest()
	header := pay(t, ts, req)

	resp, body := doJSON(t, http.MethodPost, executeURL(ts), req, map[string]string{payment.HeaderName: header})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var res models.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, models.DecisionApproved, res.Decision)
	assert.Equal(t, models.ReasonPaymentVerified, res.Code)
	require.NotNil(t, res.ProviderResponse)
	assert.True(t, res.ProviderResponse.Success)

	// Same proof again is a replay.
	resp, body = doJSON(t, http.MethodPost, executeURL(ts), req, map[string]string{payment.HeaderName: header})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, models.ReasonReplayAttack, res.Code)
}

func TestExecuteDeniedByPolicy(t *testing.T) {
	ts := setupServer(t)
	req := welcomeRequest()
	req.Task = "marketing_blast"

	resp, body := doJSON(t, http.MethodPost, executeURL(ts), req, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var res models.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, models.DecisionDenied, res.Decision)
	assert.Equal(t, models.ReasonTaskNotAllowed, res.Code)
	assert.NotEmpty(t, res.LogID)
}

func TestExecuteMissingFields(t *testing.T) {
	ts := setupServer(t)
	resp, body := doJSON(t, http.MethodPost, executeURL(ts), models.Request{Provider: "email"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var res errorResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, models.DecisionDenied, res.Decision)
	assert.Equal(t, string(models.ReasonMissingFields), res.Code)
	assert.Equal(t, "error", res.LogID)

	// Not audited.
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/logs", nil, nil)
	var logs logsResponse
	require.NoError(t, json.Unmarshal(body, &logs))
	assert.Zero(t, logs.Stats.Total)
}

func TestExecuteInvalidBody(t *testing.T) {
	ts := setupServer(t)
	resp, err := http.Post(executeURL(ts), "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecuteRunIDHeader(t *testing.T) {
	ts := setupServer(t)
	doJSON(t, http.MethodPost, executeURL(ts), welcomeRequest(), map[string]string{RunIDHeader: "run-42"})

	_, body := doJSON(t, http.MethodGet, ts.URL+"/api/logs", nil, nil)
	var logs logsResponse
	require.NoError(t, json.Unmarshal(body, &logs))
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, "run-42", logs.Logs[0].RunID)
}

func TestRateLimit(t *testing.T) {
	ts := setupServer(t, func(c *config.Config) {
		c.Server.RateLimitRPS = 0.001
		c.Server.RateLimitBurst = 2
	})

	codes := make([]int, 3)
	for i := range codes {
		resp, _ := doJSON(t, http.MethodPost, executeURL(ts), welcomeRequest(), nil)
		codes[i] = resp.StatusCode
	}
	assert.Equal(t, []int{http.StatusPaymentRequired, http.StatusPaymentRequired, http.StatusTooManyRequests}, codes)

	// Reads are not limited.
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/budget", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	rl := newRateLimiter(1, 1)
	now := time.Unix(0, 0)
	rl.now = func() time.Time { return now }

	rl.get("10.0.0.1")
	now = now.Add(5 * time.Minute)
	rl.get("10.0.0.2")

	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestAdminAuth(t *testing.T) {
	ts := setupServer(t, func(c *config.Config) { c.Server.AdminSecret = testSecret })
	body := map[string]any{"action": "reset"}

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/budget", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/budget", body, map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	wrong, err := IssueAdminToken("other-secret", "ops", time.Hour)
	require.NoError(t, err)
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/budget", body, map[string]string{"Authorization": "Bearer " + wrong})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, err := IssueAdminToken(testSecret, "ops", -time.Minute)
	require.NoError(t, err)
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/budget", body, map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := IssueAdminToken(testSecret, "ops", time.Hour)
	require.NoError(t, err)
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/budget", body, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Reads stay public.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/policy", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIssueAdminTokenRequiresSecret(t *testing.T) {
	_, err := IssueAdminToken("", "ops", time.Hour)
	assert.Error(t, err)
}

func TestBudgetEndpoints(t *testing.T) {
	ts := setupServer(t)
	req := welcomeRequest()
	header := pay(t, ts, req)
	doJSON(t, http.MethodPost, executeURL(ts), req, map[string]string{payment.HeaderName: header})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/budget", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st models.BudgetStatus
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, models.MustParseAmount("0.999"), st.Remaining)
	assert.Equal(t, models.MustParseAmount("0.001"), st.Spent)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/budget", map[string]any{"action": "set_limit", "daily_limit": 5}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/budget", nil, nil)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, models.MustParseAmount("5"), st.DailyLimit)
	assert.Equal(t, models.MustParseAmount("5"), st.Remaining)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/budget", map[string]any{"action": "set_limit", "daily_limit": -1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/budget", map[string]any{"action": "set_limit"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/budget", map[string]any{"action": "drain"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPolicyEndpoints(t *testing.T) {
	ts := setupServer(t)

	resp, body := doJSON(t, http.MethodPatch, ts.URL+"/api/policy", map[string]any{"allowed_tasks": []string{"welcome_flow", "digest"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var p models.PolicyConfig
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, []string{"welcome_flow", "digest"}, p.AllowedTasks)
	assert.Equal(t, []string{"email"}, p.AllowedProviders)

	req := welcomeRequest()
	req.Task = "digest"
	resp, _ = doJSON(t, http.MethodPost, executeURL(ts), req, nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPatch, ts.URL+"/api/policy", map[string]any{"max_price_per_call": -0.1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogsEndpoint(t *testing.T) {
	ts := setupServer(t)
	for range 3 {
		doJSON(t, http.MethodPost, executeURL(ts), welcomeRequest(), nil)
	}
	denied := welcomeRequest()
	denied.Provider = "sms"
	doJSON(t, http.MethodPost, executeURL(ts), denied, nil)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/logs?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logs logsResponse
	require.NoError(t, json.Unmarshal(body, &logs))
	require.Len(t, logs.Logs, 2)
	assert.Equal(t, "log_4", logs.Logs[0].ID)
	assert.Equal(t, models.LogStats{Total: 4, Denied: 1, PaymentRequired: 3}, logs.Stats)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/logs?limit=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/logs", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/logs", nil, nil)
	require.NoError(t, json.Unmarshal(body, &logs))
	assert.Empty(t, logs.Logs)
}

func TestClearNoncesAllowsReplayedProof(t *testing.T) {
	ts := setupServer(t)
	req := welcomeRequest()
	header := pay(t, ts, req)
	resp, _ := doJSON(t, http.MethodPost, executeURL(ts), req, map[string]string{payment.HeaderName: header})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/spendguard/nonces", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Pending quote is gone too, so the old proof is unknown rather than replayed.
	resp, body := doJSON(t, http.MethodPost, executeURL(ts), req, map[string]string{payment.HeaderName: header})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	var res models.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, models.ReasonPaymentNotFound, res.Code)
}

func TestClearAll(t *testing.T) {
	ts := setupServer(t)
	doJSON(t, http.MethodPatch, ts.URL+"/api/policy", map[string]any{"allowed_tasks": []string{"digest"}}, nil)
	doJSON(t, http.MethodPost, ts.URL+"/api/budget", map[string]any{"action": "set_limit", "daily_limit": 2}, nil)
	doJSON(t, http.MethodPost, executeURL(ts), welcomeRequest(), nil)

	resp, _ := doJSON(t, http.MethodDelete, ts.URL+"/api/spendguard/clear", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := doJSON(t, http.MethodGet, ts.URL+"/api/policy", nil, nil)
	var p models.PolicyConfig
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, []string{"welcome_flow"}, p.AllowedTasks)

	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/budget", nil, nil)
	var st models.BudgetStatus
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, models.MustParseAmount("1"), st.DailyLimit)

	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/logs", nil, nil)
	var logs logsResponse
	require.NoError(t, json.Unmarshal(body, &logs))
	assert.Zero(t, logs.Stats.Total)
}

func TestProviderEndpoint(t *testing.T) {
	ts := setupServer(t)
	url := ts.URL + "/api/provider/email/send"
	payload := map[string]string{"to": "a@example.com", "subject": "hi"}

	resp, body := doJSON(t, http.MethodPost, url, payload, nil)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	var quote struct {
		X402 models.PaymentRequirement `json:"x402"`
	}
	require.NoError(t, json.Unmarshal(body, &quote))
	assert.Equal(t, models.MustParseAmount("0.001"), quote.X402.Price)
	assert.NotEmpty(t, quote.X402.Nonce)

	resp, body = doJSON(t, http.MethodPost, url, payload, map[string]string{payment.HeaderName: "anything"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res models.ProviderResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.Success)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/provider/fax/send", payload, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	r, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString("{oops"))
	require.NoError(t, err)
	r.Header.Set(payment.HeaderName, "anything")
	raw, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestBodyLimit(t *testing.T) {
	ts := setupServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 16 })
	resp, _ := doJSON(t, http.MethodPost, executeURL(ts), welcomeRequest(), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSQLiteBackedFlow(t *testing.T) {
	cfg := config.Default()
	db, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "guard.db"), cfg.Audit.MaxEntries)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	g, err := guard.NewFromConfig(context.Background(), cfg, db.Stores(), guard.Options{Logger: discard})
	require.NoError(t, err)
	ts := httptest.NewServer(New(cfg, g, discard))
	t.Cleanup(ts.Close)

	req := welcomeRequest()
	header := pay(t, ts, req)
	resp, body := doJSON(t, http.MethodPost, executeURL(ts), req, map[string]string{payment.HeaderName: header})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/logs", nil, nil)
	var logs logsResponse
	require.NoError(t, json.Unmarshal(body, &logs))
	assert.Equal(t, models.LogStats{Total: 2, Approved: 1, PaymentRequired: 1}, logs.Stats)
}
