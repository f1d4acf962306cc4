package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/payment"
	"github.com/pario-ai/spendguard/pkg/telemetry"
)

const defaultHTTPTimeout = 30 * time.Second

// maxResponseBytes caps how much of a provider reply is read.
const maxResponseBytes = 1 << 20

// HTTPGateway talks to a remote x402 provider. An unpaid POST must answer
// 402 with {"x402": requirement}; a paid POST answers 200 with a ProviderResult.
type HTTPGateway struct {
	url    string
	client *http.Client
}

// NewHTTPGateway creates a gateway for cfg.URL.
func NewHTTPGateway(cfg config.ProviderConfig) (*HTTPGateway, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid provider URL %q", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := telemetry.InstrumentClient(&http.Client{Timeout: timeout})
	return &HTTPGateway{url: u.String(), client: client}, nil
}

func (g *HTTPGateway) Quote(ctx context.Context) (models.PaymentRequirement, error) {
	res, err := g.do(ctx, "", []byte("{}"))
	if err != nil {
		return models.PaymentRequirement{}, err
	}
	if res.statusCode != http.StatusPaymentRequired {
		return models.PaymentRequirement{}, &StatusError{StatusCode: res.statusCode, Body: string(res.body)}
	}
	var env struct {
		X402 *models.PaymentRequirement `json:"x402"`
	}
	if err := json.Unmarshal(res.body, &env); err != nil || env.X402 == nil {
		return models.PaymentRequirement{}, fmt.Errorf("decode payment requirement: missing x402 body")
	}
	return *env.X402, nil
}

func (g *HTTPGateway) Execute(ctx context.Context, proofHeader string, payload json.RawMessage) (*models.ProviderResult, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	res, err := g.do(ctx, proofHeader, payload)
	if err != nil {
		return nil, err
	}
	if res.statusCode < 200 || res.statusCode > 299 {
		return nil, &StatusError{StatusCode: res.statusCode, Body: string(res.body)}
	}
	var out models.ProviderResult
	if err := json.Unmarshal(res.body, &out); err != nil {
		return nil, fmt.Errorf("decode provider result: %w", err)
	}
	return &out, nil
}

type upstreamResult struct {
	statusCode int
	body       []byte
}

func (g *HTTPGateway) do(ctx context.Context, proofHeader string, body []byte) (*upstreamResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if proofHeader != "" {
		req.Header.Set(payment.HeaderName, proofHeader)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &upstreamResult{statusCode: resp.StatusCode, body: respBody}, nil
}
