package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/skyhire/skyhire-backend/internal/models"
)

const reconcileBatchSize = 100

// Reconciler periodically finishes gateway work for bookings whose lifecycle
// transition committed but whose payment call did not: completed-but-
// unsettled transfers, recorded-but-untransferred tips and cancelled-but-
// unvoided captures. It reuses the original idempotency tokens, so a retry
// that races a concurrent settlement still moves funds at most once.
type Reconciler struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
}

func NewReconciler(e *Engine, interval time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{engine: e, interval: interval, logger: logger}
}

// Run blocks until ctx is done, reconciling on each tick.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.engine.ReconcilePending(ctx); err != nil {
				r.logger.Error("reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// ReconcilePending performs one reconciliation pass. It never initiates a
// lifecycle transition; it only completes payments for states already
// committed in the ledger.
func (e *Engine) ReconcilePending(ctx context.Context) error {
	pending, err := e.store.ListPendingPayments(ctx, reconcileBatchSize)
	if err != nil {
		return err
	}

	for i := range pending {
		b := &pending[i]
		switch b.Status {
		case models.BookingStatusCompleted:
			if !b.Settled {
				e.settle(ctx, b)
			}
			if b.TipAmountCents > 0 && b.TipTransferID == "" {
				e.settleTip(ctx, b)
			}
		case models.BookingStatusCancelled:
			if b.Voided {
				continue
			}
			if err := e.gateway.Void(ctx, b.PaymentIntentID); err != nil {
				e.logger.Error("void retry failed",
					zap.String("bookingId", b.ID), zap.Error(err))
				continue
			}
			if _, err := e.store.MarkVoided(ctx, b.ID); err != nil {
				e.logger.Error("failed to record void",
					zap.String("bookingId", b.ID), zap.Error(err))
			}
		}
	}
	return nil
}
