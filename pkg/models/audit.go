package models

import (
	"encoding/json"
	"time"
)

// AuditLogEntry records one terminal guard decision.
type AuditLogEntry struct {
	ID              string          `json:"id"`
	Provider        string          `json:"provider"`
	Action          string          `json:"action"`
	Task            string          `json:"task"`
	Cost            Amount          `json:"cost"`
	Decision        Decision        `json:"decision"`
	Reason          string          `json:"reason"`
	Code            ReasonCode      `json:"code"`
	RunID           string          `json:"run_id,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Response        json.RawMessage `json:"response,omitempty"`
	PaymentNonce    string          `json:"payment_nonce,omitempty"`
	PaymentPayer    string          `json:"payment_payer,omitempty"`
	PaymentVerified *bool           `json:"payment_verified,omitempty"`
}

// LogStats aggregates retained audit entries by decision.
type LogStats struct {
	Total           int `json:"total"`
	Approved        int `json:"approved"`
	Denied          int `json:"denied"`
	PaymentRequired int `json:"payment_required"`
}

// AuditConfig controls audit retention.
type AuditConfig struct {
	MaxEntries  int `yaml:"max_entries"`
	MaxBodySize int `yaml:"max_body_size"` // payload/response bytes kept per entry; 0 = unlimited
}
