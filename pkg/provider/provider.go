// Package provider defines pay-per-call provider gateways and their registry.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/payment"
)

// Gateway quotes and executes provider actions.
type Gateway interface {
	// Quote returns a fresh payment requirement. It has no other effect on the guard.
	Quote(ctx context.Context) (models.PaymentRequirement, error)
	// Execute runs a paid action. proofHeader is the verified X-PAYMENT-PROOF value.
	// A returned error is a transport fault; provider-level failures come back
	// as a result with Success false.
	Execute(ctx context.Context, proofHeader string, payload json.RawMessage) (*models.ProviderResult, error)
}

// StatusError is an unexpected HTTP status from a remote provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected provider status %d", e.StatusCode)
}

// requirement builds a quote from a provider's published terms.
func requirement(cfg config.ProviderConfig) models.PaymentRequirement {
	return models.PaymentRequirement{
		Price:       cfg.PricePerCall,
		Asset:       cfg.Asset,
		Network:     cfg.Network,
		Nonce:       payment.NewNonce(),
		PayTo:       cfg.PayTo,
		CallbackURL: cfg.CallbackURL,
	}
}
