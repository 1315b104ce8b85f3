// Package engine owns the booking lifecycle state machine: creation, pilot
// acceptance, cancellation, mutual completion and exactly-once settlement,
// with rating and tip gated on completion. Every transition is delegated to
// a single conditional update in the ledger store; the engine holds no
// booking state of its own.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skyhire/skyhire-backend/internal/gateway"
	"github.com/skyhire/skyhire-backend/internal/ledger"
	"github.com/skyhire/skyhire-backend/internal/models"
	"github.com/skyhire/skyhire-backend/internal/stats"
)

type Engine struct {
	store   ledger.Store
	gateway gateway.PaymentGateway
	stats   stats.Recorder
	logger  *zap.Logger
}

func New(store ledger.Store, gw gateway.PaymentGateway, recorder stats.Recorder, logger *zap.Logger) *Engine {
	return &Engine{store: store, gateway: gw, stats: recorder, logger: logger}
}

// Idempotency tokens are derived from the booking id, so a retried
// settlement always replays the same gateway request.
func completionToken(bookingID string) string {
	return fmt.Sprintf("booking:%s:completion", bookingID)
}

func tipToken(bookingID string) string {
	return fmt.Sprintf("booking:%s:tip", bookingID)
}

func payeeRef(b *models.Booking) string {
	if b.Pilot != nil && b.Pilot.PayoutAccountID != "" {
		return b.Pilot.PayoutAccountID
	}
	if b.PilotID != nil {
		return fmt.Sprintf("acct_pilot_%d", *b.PilotID)
	}
	return ""
}

type CreateBookingInput struct {
	CustomerID      uint
	PayerRef        string
	AmountCents     int64
	EstimatedHours  float64
	RequiredMinRank int
	Specialization  string
	PickupLat       float64
	PickupLng       float64
	PickupAddr      string
	DropoffLat      float64
	DropoffLng      float64
	DropoffAddr     string
	ScheduledAt     time.Time
}

// CreateBooking captures payment first and only then persists the booking;
// no booking row ever exists without funds held against it.
func (e *Engine) CreateBooking(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	if in.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if in.EstimatedHours <= 0 {
		return nil, fmt.Errorf("%w: estimated hours must be positive", ErrInvalidInput)
	}
	if in.RequiredMinRank < 0 {
		return nil, fmt.Errorf("%w: required minimum rank must not be negative", ErrInvalidInput)
	}

	cap, err := e.gateway.Capture(ctx, in.AmountCents, in.PayerRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFundsNotCaptured, err)
	}

	b := &models.Booking{
		ID:              uuid.New().String(),
		CustomerID:      in.CustomerID,
		AmountCents:     in.AmountCents,
		EstimatedHours:  in.EstimatedHours,
		RequiredMinRank: in.RequiredMinRank,
		Specialization:  in.Specialization,
		PickupLat:       in.PickupLat,
		PickupLng:       in.PickupLng,
		PickupAddr:      in.PickupAddr,
		DropoffLat:      in.DropoffLat,
		DropoffLng:      in.DropoffLng,
		DropoffAddr:     in.DropoffAddr,
		ScheduledAt:     in.ScheduledAt,
		PaymentIntentID: cap.PaymentIntentID,
		ChargeID:        cap.ChargeID,
		Status:          models.BookingStatusAvailable,
	}

	if err := e.store.Create(ctx, b); err != nil {
		// The capture must not be stranded when the row never existed.
		if verr := e.gateway.Void(ctx, cap.PaymentIntentID); verr != nil {
			e.logger.Error("failed to void capture after create failure",
				zap.String("paymentIntent", cap.PaymentIntentID), zap.Error(verr))
		}
		return nil, err
	}

	e.logger.Info("booking created",
		zap.String("bookingId", b.ID),
		zap.Uint("customerId", b.CustomerID),
		zap.Int64("amountCents", b.AmountCents))
	return b, nil
}

// Accept assigns a pilot to an available booking. The rank check is pure
// validation; the assignment itself is guarded on the booking still being
// unassigned, so two racing pilots get exactly one winner.
func (e *Engine) Accept(ctx context.Context, bookingID string, pilotID uint, pilotRank int) (models.BookingStatus, error) {
	b, err := e.store.Get(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if pilotRank < b.RequiredMinRank {
		return b.Status, ErrRankTooLow
	}

	applied, b, err := e.store.AssignPilot(ctx, bookingID, pilotID)
	if err != nil {
		return "", err
	}
	if !applied {
		if b.PilotID != nil {
			return b.Status, ErrAlreadyAssigned
		}
		return b.Status, ErrAlreadyTerminal
	}

	e.logger.Info("booking accepted",
		zap.String("bookingId", bookingID),
		zap.Uint("pilotId", pilotID))
	return b.Status, nil
}

// Cancel moves a non-terminal booking to cancelled and releases the held
// payment. Only the caller whose conditional update applied performs the
// void; a void failure leaves the booking cancelled-but-unvoided for the
// reconciler.
func (e *Engine) Cancel(ctx context.Context, bookingID string) (models.BookingStatus, error) {
	applied, b, err := e.store.Cancel(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if !applied {
		return b.Status, ErrAlreadyTerminal
	}

	if err := e.gateway.Void(ctx, b.PaymentIntentID); err != nil {
		e.logger.Error("booking cancelled but capture not voided",
			zap.String("bookingId", bookingID), zap.Error(err))
	} else if _, err := e.store.MarkVoided(ctx, bookingID); err != nil {
		e.logger.Error("failed to record void", zap.String("bookingId", bookingID), zap.Error(err))
	}

	e.logger.Info("booking cancelled", zap.String("bookingId", bookingID))
	return b.Status, nil
}

// MarkComplete flips the actor's completion flag. When that flip is the one
// that makes both flags true, the booking becomes completed and this caller
// alone triggers settlement. A repeat call for the same actor is a no-op
// returning the current status, so client retries are safe.
func (e *Engine) MarkComplete(ctx context.Context, bookingID string, role models.ActorRole) (models.BookingStatus, error) {
	res, err := e.store.SetCompleted(ctx, bookingID, role)
	if err != nil {
		return "", err
	}
	if !res.Applied {
		switch res.Booking.Status {
		case models.BookingStatusCancelled:
			return res.Booking.Status, ErrAlreadyTerminal
		case models.BookingStatusAvailable:
			return res.Booking.Status, ErrNotAccepted
		default:
			// Flag already set: resubmission without side effects.
			return res.Booking.Status, nil
		}
	}

	if res.CompletedNow {
		e.settle(ctx, res.Booking)
		if res.Booking.PilotID != nil {
			if err := e.stats.RecordCompletion(ctx, *res.Booking.PilotID, res.Booking.EstimatedHours); err != nil {
				e.logger.Error("failed to record completion stats",
					zap.String("bookingId", bookingID), zap.Error(err))
			}
		}
	}
	return res.Booking.Status, nil
}

// settle issues the base transfer for a completed booking. Failure leaves
// the booking completed-but-unsettled; the reconciler retries with the same
// idempotency token, so the transfer can never double-fire.
func (e *Engine) settle(ctx context.Context, b *models.Booking) {
	token := completionToken(b.ID)
	transferID, err := e.gateway.Transfer(ctx, b.ChargeID, payeeRef(b), b.AmountCents, token)
	if err != nil {
		e.logger.Error("booking completed but unsettled",
			zap.String("bookingId", b.ID),
			zap.Int64("amountCents", b.AmountCents),
			zap.Error(err))
		return
	}
	if _, err := e.store.MarkSettled(ctx, b.ID, transferID); err != nil {
		e.logger.Error("failed to record settlement",
			zap.String("bookingId", b.ID),
			zap.String("transferId", transferID),
			zap.Error(err))
		return
	}
	e.logger.Info("booking settled",
		zap.String("bookingId", b.ID),
		zap.String("transferId", transferID),
		zap.Int64("amountCents", b.AmountCents))
}

// SubmitRating records one side's rating of the other, gated on completion
// and at most once per side.
func (e *Engine) SubmitRating(ctx context.Context, bookingID string, role models.ActorRole, fromUserID uint, score float64, comment string) error {
	if score < 0 || score > 5 {
		return fmt.Errorf("%w: score must be between 0 and 5", ErrInvalidInput)
	}

	applied, b, err := e.store.SetRated(ctx, bookingID, role)
	if err != nil {
		return err
	}
	if !applied {
		if b.Status != models.BookingStatusCompleted {
			return ErrNotCompleted
		}
		return ErrAlreadyRated
	}

	toUserID := b.CustomerID
	if role == models.ActorRoleCustomer && b.PilotID != nil {
		toUserID = *b.PilotID
	}
	rating := models.Rating{
		BookingID:  bookingID,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Role:       role,
		Score:      score,
		Comment:    comment,
	}
	if err := e.stats.RecordRating(ctx, rating); err != nil {
		// The rated flag is the source of truth; the aggregate catches up.
		e.logger.Error("failed to record rating",
			zap.String("bookingId", bookingID), zap.Error(err))
	}
	return nil
}

// AddTip sets the tip once on a completed booking and issues the
// supplemental transfer, independent of base settlement.
func (e *Engine) AddTip(ctx context.Context, bookingID string, amountCents int64) error {
	if amountCents <= 0 {
		return fmt.Errorf("%w: tip must be positive", ErrInvalidInput)
	}

	applied, b, err := e.store.SetTip(ctx, bookingID, amountCents)
	if err != nil {
		return err
	}
	if !applied {
		if b.Status != models.BookingStatusCompleted {
			return ErrNotCompleted
		}
		return ErrTipAlreadySet
	}

	e.settleTip(ctx, b)
	return nil
}

func (e *Engine) settleTip(ctx context.Context, b *models.Booking) {
	token := tipToken(b.ID)
	transferID, err := e.gateway.Transfer(ctx, b.ChargeID, payeeRef(b), b.TipAmountCents, token)
	if err != nil {
		e.logger.Error("tip recorded but untransferred",
			zap.String("bookingId", b.ID),
			zap.Int64("tipCents", b.TipAmountCents),
			zap.Error(err))
		return
	}
	if _, err := e.store.MarkTipSettled(ctx, b.ID, transferID); err != nil {
		e.logger.Error("failed to record tip settlement",
			zap.String("bookingId", b.ID), zap.Error(err))
	}
}

// GetBooking returns the current committed snapshot.
func (e *Engine) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return e.store.Get(ctx, bookingID)
}

func (e *Engine) ListAvailable(ctx context.Context, specialization string, page ledger.Page) ([]models.Booking, int64, error) {
	return e.store.ListAvailable(ctx, specialization, page)
}

func (e *Engine) ListByCustomer(ctx context.Context, customerID uint, page ledger.Page) ([]models.Booking, int64, error) {
	return e.store.ListByCustomer(ctx, customerID, page)
}

func (e *Engine) ListByPilot(ctx context.Context, pilotID uint, page ledger.Page) ([]models.Booking, int64, error) {
	return e.store.ListByPilot(ctx, pilotID, page)
}
