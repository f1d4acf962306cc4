package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/models"
)

// EmailPayload is the body of a send action.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body,omitempty"`
}

// EmailReceipt is returned in ProviderResult.Data on a successful send.
type EmailReceipt struct {
	Status  string    `json:"status"`
	ID      string    `json:"id"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// MockEmail is an in-process email provider that pretends to send.
type MockEmail struct {
	cfg     config.ProviderConfig
	counter atomic.Int64
	now     func() time.Time
}

// NewMockEmail creates a MockEmail with the given published terms.
func NewMockEmail(cfg config.ProviderConfig) *MockEmail {
	return &MockEmail{cfg: cfg, now: time.Now}
}

func (m *MockEmail) Quote(_ context.Context) (models.PaymentRequirement, error) {
	return requirement(m.cfg), nil
}

func (m *MockEmail) Execute(_ context.Context, _ string, payload json.RawMessage) (*models.ProviderResult, error) {
	var p EmailPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return &models.ProviderResult{Error: "Invalid payload: " + err.Error()}, nil
		}
	}
	if p.To == "" || p.Subject == "" {
		return &models.ProviderResult{Error: "Missing required fields: to, subject"}, nil
	}

	body := p.Body
	if body == "" {
		body = "(no body)"
	}
	data, err := json.Marshal(EmailReceipt{
		Status:  "sent",
		ID:      fmt.Sprintf("email_%d", m.counter.Add(1)),
		To:      p.To,
		Subject: p.Subject,
		Body:    body,
		SentAt:  m.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	return &models.ProviderResult{Success: true, Data: data}, nil
}
