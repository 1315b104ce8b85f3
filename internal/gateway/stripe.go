package gateway

import (
	"context"
	"fmt"
	"os"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/transfer"
	"go.uber.org/zap"
)

// StripeGateway charges customers via PaymentIntents and pays pilots via
// Transfers against the original charge. Pilot payout accounts are Stripe
// connected accounts.
type StripeGateway struct {
	currency string
	logger   *zap.Logger
}

func NewStripeGateway(logger *zap.Logger) *StripeGateway {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	currency := os.Getenv("STRIPE_CURRENCY")
	if currency == "" {
		currency = "usd"
	}
	return &StripeGateway{currency: currency, logger: logger}
}

func (g *StripeGateway) Capture(ctx context.Context, amountCents int64, payerRef string) (*Capture, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(g.currency),
		PaymentMethod: stripe.String(payerRef),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		g.logger.Error("stripe capture failed", zap.Int64("amountCents", amountCents), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("%w: payment intent status %s", ErrCaptureFailed, pi.Status)
	}

	cap := &Capture{PaymentIntentID: pi.ID}
	if pi.LatestCharge != nil {
		cap.ChargeID = pi.LatestCharge.ID
	}
	return cap, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, chargeID, payeeRef string, amountCents int64, idempotencyKey string) (string, error) {
	params := &stripe.TransferParams{
		Amount:            stripe.Int64(amountCents),
		Currency:          stripe.String(g.currency),
		Destination:       stripe.String(payeeRef),
		SourceTransaction: stripe.String(chargeID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	tr, err := transfer.New(params)
	if err != nil {
		g.logger.Error("stripe transfer failed",
			zap.String("idempotencyKey", idempotencyKey),
			zap.Int64("amountCents", amountCents),
			zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return tr.ID, nil
}

func (g *StripeGateway) Void(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	if _, err := paymentintent.Cancel(paymentIntentID, params); err != nil {
		g.logger.Error("stripe void failed", zap.String("paymentIntent", paymentIntentID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrVoidFailed, err)
	}
	return nil
}

var _ PaymentGateway = (*StripeGateway)(nil)
