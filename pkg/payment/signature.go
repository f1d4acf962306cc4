package payment

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/pario-ai/spendguard/pkg/models"
)

var (
	// ErrInvalidSignature means the proof's signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidPayer means the payer credential is malformed or unknown.
	ErrInvalidPayer = errors.New("invalid payer")
)

// SignatureVerifier authenticates a proof's payer and signature.
// It returns ErrInvalidSignature or ErrInvalidPayer (possibly wrapped) on rejection;
// any other error is treated as a verifier fault.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, proof models.PaymentProof) error
}

// Mock prefixes used by the reference scheme.
const (
	MockSignaturePrefix = "mock_signature_"
	MockPayerPrefix     = "mock_payer_"
)

// MockSignatureVerifier accepts any proof whose signature and payer carry the
// mock prefixes. It performs no cryptography.
type MockSignatureVerifier struct{}

func (MockSignatureVerifier) VerifySignature(_ context.Context, p models.PaymentProof) error {
	if !strings.HasPrefix(p.Signature, MockSignaturePrefix) {
		return fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}
	if !strings.HasPrefix(p.Payer, MockPayerPrefix) {
		return fmt.Errorf("%w: malformed payer address", ErrInvalidPayer)
	}
	return nil
}

// Ed25519Verifier treats the payer as a hex Ed25519 public key and the
// signature as a hex signature over SigningMessage.
type Ed25519Verifier struct {
	// Allowed restricts payers to a known set when non-empty.
	Allowed map[string]bool
}

func (v Ed25519Verifier) VerifySignature(_ context.Context, p models.PaymentProof) error {
	pub, err := hex.DecodeString(p.Payer)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: payer is not a hex ed25519 public key", ErrInvalidPayer)
	}
	if len(v.Allowed) > 0 && !v.Allowed[p.Payer] {
		return fmt.Errorf("%w: payer not recognised", ErrInvalidPayer)
	}
	sig, err := hex.DecodeString(p.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), SigningMessage(p), sig) {
		return fmt.Errorf("%w: signature does not verify", ErrInvalidSignature)
	}
	return nil
}

// SigningMessage is the byte string a payer signs: nonce|payer|amount.
// The amount segment is empty when the proof states none.
func SigningMessage(p models.PaymentProof) []byte {
	amount := ""
	if p.Amount != nil {
		amount = p.Amount.String()
	}
	return []byte(p.Nonce + "|" + p.Payer + "|" + amount)
}

// NewSignatureVerifier returns the verifier for a configured scheme name.
func NewSignatureVerifier(scheme string) (SignatureVerifier, error) {
	switch scheme {
	case "", "mock":
		return MockSignatureVerifier{}, nil
	case "ed25519":
		return Ed25519Verifier{}, nil
	default:
		return nil, fmt.Errorf("unknown signature scheme %q", scheme)
	}
}
