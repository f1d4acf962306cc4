package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

// Verification is the outcome of Verify.
type Verification struct {
	Valid  bool
	Code   models.ReasonCode
	Reason string
	Nonce  string
	Payer  string
	Amount models.Amount
}

// Verifier checks a proof against its quote and consumes the nonce.
type Verifier struct {
	nonces    store.NonceStore
	signature SignatureVerifier
}

// NewVerifier creates a Verifier. A nil SignatureVerifier means the mock scheme.
func NewVerifier(nonces store.NonceStore, sv SignatureVerifier) *Verifier {
	if sv == nil {
		sv = MockSignatureVerifier{}
	}
	return &Verifier{nonces: nonces, signature: sv}
}

// Verify runs, in order: nonce match, signature and payer, stated amount, nonce claim.
// The claim is the last step, so a proof rejected earlier leaves the nonce usable.
// A returned error means a store or verifier fault, not a rejected proof.
func (v *Verifier) Verify(ctx context.Context, proof models.PaymentProof, expectedNonce string, expectedAmount models.Amount) (Verification, error) {
	if proof.Nonce != expectedNonce {
		return reject(models.ReasonInvalidNonce, "Nonce mismatch"), nil
	}

	if err := v.signature.VerifySignature(ctx, proof); err != nil {
		switch {
		case errors.Is(err, ErrInvalidSignature):
			return reject(models.ReasonInvalidSignature, err.Error()), nil
		case errors.Is(err, ErrInvalidPayer):
			return reject(models.ReasonInvalidPayer, err.Error()), nil
		default:
			return Verification{}, fmt.Errorf("verify signature: %w", err)
		}
	}

	// A proof that states no amount pays the quoted price.
	paid := expectedAmount
	if proof.Amount != nil {
		paid = *proof.Amount
		if paid < expectedAmount {
			return reject(models.ReasonInsufficientAmount,
				fmt.Sprintf("Paid %s, expected %s", paid.Dollars(), expectedAmount.Dollars())), nil
		}
	}

	ok, err := v.nonces.Claim(ctx, proof.Nonce)
	if err != nil {
		return Verification{}, fmt.Errorf("claim nonce: %w", err)
	}
	if !ok {
		return reject(models.ReasonReplayAttack, "Nonce already used"), nil
	}

	return Verification{
		Valid:  true,
		Code:   models.ReasonPaymentVerified,
		Reason: string(models.ReasonPaymentVerified),
		Nonce:  proof.Nonce,
		Payer:  proof.Payer,
		Amount: paid,
	}, nil
}

func reject(code models.ReasonCode, detail string) Verification {
	return Verification{Code: code, Reason: models.Reason(code, detail)}
}
