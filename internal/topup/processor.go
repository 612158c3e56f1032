// Package topup turns payment-provider webhook notifications into wallet
// credits. The provider retries deliveries at will; the external reference is
// the idempotency key that keeps every retry from crediting twice.
package topup

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/campuskit/centpay/internal/coordinator"
	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/repository"
)

var ErrBadSignature = errors.New("webhook signature is invalid")

// Result describes what one delivery of a notification did.
type Result string

const (
	ResultApplied        Result = "applied"
	ResultAlreadyApplied Result = "already_applied"
	ResultRejected       Result = "rejected"
)

// Verifier authenticates a raw webhook body against its signature header.
type Verifier interface {
	Verify(body []byte, signature string) error
}

// HMACVerifier checks a hex-encoded HMAC-SHA256 of the body, the scheme the
// provider signs its deliveries with.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(body []byte, signature string) error {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrBadSignature
	}

	return nil
}

// Notification is the decoded webhook payload.
type Notification struct {
	ExternalRef string `json:"external_ref"`
	WalletID    string `json:"wallet_id"`
	Amount      int64  `json:"amount"`
}

type Processor struct {
	coord    *coordinator.Coordinator
	verifier Verifier
	logger   *slog.Logger
}

func NewProcessor(coord *coordinator.Coordinator, verifier Verifier, logger *slog.Logger) *Processor {
	return &Processor{
		coord:    coord,
		verifier: verifier,
		logger:   logger,
	}
}

// VerifySignature authenticates a raw delivery before it is decoded.
func (p *Processor) VerifySignature(body []byte, signature string) error {
	return p.verifier.Verify(body, signature)
}

// HandleNotification applies one delivery of a top-up notification. Every
// redelivery of the same external reference converges on the outcome of the
// first: an applied top-up reports already_applied, a rejected one stays
// rejected. A rejection (cap exceeded, frozen or missing wallet) is recorded
// and alerted but never retried; the provider gets a success so it stops
// redelivering.
func (p *Processor) HandleNotification(ctx context.Context, n Notification) (*models.TopUp, Result, error) {
	topUp, applied, err := p.coord.TopUpCredit(ctx, n.WalletID, n.Amount, n.ExternalRef)
	if err != nil {
		if isRejection(err) {
			return topUp, ResultRejected, nil
		}
		return nil, "", err
	}

	if applied {
		p.logger.Info("top-up applied",
			"external_ref", n.ExternalRef,
			"wallet_id", n.WalletID,
			"amount", n.Amount,
		)
		return topUp, ResultApplied, nil
	}

	if topUp.Status == models.TopUpStatusRejected {
		return topUp, ResultRejected, nil
	}

	return topUp, ResultAlreadyApplied, nil
}

func isRejection(err error) bool {
	return errors.Is(err, repository.ErrCapExceeded) ||
		errors.Is(err, repository.ErrWalletFrozen) ||
		errors.Is(err, repository.ErrWalletNotFound)
}
