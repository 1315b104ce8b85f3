// Package gateway wraps the payment provider. Funds are captured against a
// payment intent at booking creation and transferred to the pilot at
// settlement; transfers are idempotent per caller-supplied token.
package gateway

import (
	"context"
	"errors"
)

var (
	ErrCaptureFailed  = errors.New("payment capture failed")
	ErrTransferFailed = errors.New("payment transfer failed")
	ErrVoidFailed     = errors.New("payment void failed")
)

// Capture is the gateway's record of funds held for a booking.
type Capture struct {
	PaymentIntentID string
	ChargeID        string
}

type PaymentGateway interface {
	// Capture holds amountCents against the payer's payment method.
	Capture(ctx context.Context, amountCents int64, payerRef string) (*Capture, error)

	// Transfer moves amountCents of the captured charge to the payee. The
	// gateway guarantees at most one effective transfer per idempotency
	// key, so retries after a timeout are safe.
	Transfer(ctx context.Context, chargeID, payeeRef string, amountCents int64, idempotencyKey string) (string, error)

	// Void releases a capture that will never be settled.
	Void(ctx context.Context, paymentIntentID string) error
}
