// Package payment encodes, signs and verifies x402 payment proofs.
package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pario-ai/spendguard/pkg/models"
)

// HeaderName carries the base64 JSON payment proof on a paid retry.
const HeaderName = "X-PAYMENT-PROOF"

// ErrMalformedProof is returned when a proof header cannot be decoded.
var ErrMalformedProof = errors.New("could not parse payment proof")

// EncodeProofHeader renders a proof as base64(JSON).
func EncodeProofHeader(p models.PaymentProof) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payment proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeProofHeader parses base64(JSON). Only the nonce is required here;
// payer and signature are judged by the SignatureVerifier.
func DecodeProofHeader(header string) (models.PaymentProof, error) {
	header = strings.TrimSpace(header)
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		// Unpadded URL-safe form.
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(header, "="))
		if err != nil {
			return models.PaymentProof{}, fmt.Errorf("%w: not base64", ErrMalformedProof)
		}
	}
	var p models.PaymentProof
	if err := json.Unmarshal(data, &p); err != nil {
		return models.PaymentProof{}, fmt.Errorf("%w: not JSON", ErrMalformedProof)
	}
	if p.Nonce == "" {
		return models.PaymentProof{}, fmt.Errorf("%w: nonce is required", ErrMalformedProof)
	}
	return p, nil
}

// NewNonce returns a unique, unguessable quote nonce.
func NewNonce() string {
	return fmt.Sprintf("nonce_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", ""))
}
