package payment

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pario-ai/spendguard/pkg/models"
)

// Signer turns a quote into a proof. It is the client side of SignatureVerifier.
type Signer interface {
	Sign(req models.PaymentRequirement) (models.PaymentProof, error)
}

// MockSigner produces proofs accepted by MockSignatureVerifier.
type MockSigner struct {
	// Payer defaults to mock_payer_<unix ms>.
	Payer string
	now   func() time.Time
}

func (s MockSigner) Sign(req models.PaymentRequirement) (models.PaymentProof, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	ts := now().UnixMilli()
	payer := s.Payer
	if payer == "" {
		payer = fmt.Sprintf("%s%d", MockPayerPrefix, ts)
	}
	amount := req.Price
	return models.PaymentProof{
		Nonce:     req.Nonce,
		Payer:     payer,
		Signature: fmt.Sprintf("%s%s_%s_%d", MockSignaturePrefix, req.Nonce, payer, ts),
		Amount:    &amount,
		Asset:     req.Asset,
		Network:   req.Network,
		Timestamp: ts,
	}, nil
}

// Ed25519Signer produces proofs accepted by Ed25519Verifier.
type Ed25519Signer struct {
	Key ed25519.PrivateKey
}

func (s Ed25519Signer) Sign(req models.PaymentRequirement) (models.PaymentProof, error) {
	if len(s.Key) != ed25519.PrivateKeySize {
		return models.PaymentProof{}, fmt.Errorf("ed25519 signer: invalid private key")
	}
	amount := req.Price
	p := models.PaymentProof{
		Nonce:     req.Nonce,
		Payer:     hex.EncodeToString(s.Key.Public().(ed25519.PublicKey)),
		Amount:    &amount,
		Asset:     req.Asset,
		Network:   req.Network,
		Timestamp: time.Now().UnixMilli(),
	}
	p.Signature = hex.EncodeToString(ed25519.Sign(s.Key, SigningMessage(p)))
	return p, nil
}
