package models

import "encoding/json"

// PaymentRequirement is the machine-readable quote returned with a 402 response.
type PaymentRequirement struct {
	Price       Amount `json:"price"`
	Asset       string `json:"asset"`
	Network     string `json:"network"`
	Nonce       string `json:"nonce"`
	PayTo       string `json:"payTo"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// PaymentProof is the client's claim of payment for a quoted nonce.
type PaymentProof struct {
	Nonce     string  `json:"nonce"`
	Payer     string  `json:"payer"`
	Signature string  `json:"signature"`
	Amount    *Amount `json:"amount,omitempty"`
	Asset     string  `json:"asset,omitempty"`
	Network   string  `json:"network,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// PaidAmount returns the amount the proof claims, or zero when absent.
func (p PaymentProof) PaidAmount() Amount {
	if p.Amount == nil {
		return 0
	}
	return *p.Amount
}

// ProviderResult is the provider's reply to an executed action.
type ProviderResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}
