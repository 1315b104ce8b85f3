// Package ledger owns booking persistence. Every lifecycle transition is a
// conditional update: a single guarded write that either applies and returns
// the resulting row, or does not apply and reports the current row. Callers
// never compute a transition from a separately-read value.
package ledger

import (
	"context"
	"errors"

	"github.com/skyhire/skyhire-backend/internal/models"
)

var ErrNotFound = errors.New("booking not found")

// CompletionResult reports the outcome of a completion-flag flip.
// CompletedNow is true only for the single caller whose write made both
// flags true; that caller owns the settlement trigger.
type CompletionResult struct {
	Applied      bool
	CompletedNow bool
	Booking      *models.Booking
}

// Page bounds listing queries.
type Page struct {
	Limit  int
	Offset int
}

// Store is the ledger boundary. Each mutating method is one atomic
// conditional update; applied=false means the guard did not hold, which is
// a no-op for the caller, never an error.
type Store interface {
	Create(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, id string) (*models.Booking, error)

	// AssignPilot sets the pilot and moves available -> accepted, guarded
	// on the booking being unassigned and still available.
	AssignPilot(ctx context.Context, id string, pilotID uint) (bool, *models.Booking, error)

	// Cancel moves available/accepted -> cancelled and clears the pilot
	// assignment. Fails to apply on terminal bookings.
	Cancel(ctx context.Context, id string) (bool, *models.Booking, error)

	// SetCompleted flips the actor's completion flag, and in the same
	// statement moves accepted -> completed when the other flag is already
	// set.
	SetCompleted(ctx context.Context, id string, role models.ActorRole) (CompletionResult, error)

	// MarkSettled records the transfer reference, guarded on settled being
	// false. The idempotency backstop for base settlement.
	MarkSettled(ctx context.Context, id, transferID string) (bool, error)

	// MarkVoided records that the held payment was released after a
	// cancellation.
	MarkVoided(ctx context.Context, id string) (bool, error)

	// SetTip records the tip amount, guarded on the booking being completed
	// with no tip yet.
	SetTip(ctx context.Context, id string, amountCents int64) (bool, *models.Booking, error)

	// MarkTipSettled records the supplemental transfer reference.
	MarkTipSettled(ctx context.Context, id, transferID string) (bool, error)

	// SetRated flips the actor's rated flag, guarded on status=completed
	// and the flag being unset.
	SetRated(ctx context.Context, id string, role models.ActorRole) (bool, *models.Booking, error)

	ListAvailable(ctx context.Context, specialization string, page Page) ([]models.Booking, int64, error)
	ListByCustomer(ctx context.Context, customerID uint, page Page) ([]models.Booking, int64, error)
	ListByPilot(ctx context.Context, pilotID uint, page Page) ([]models.Booking, int64, error)

	// ListPendingPayments returns bookings with outstanding gateway work:
	// completed but unsettled, tipped but untransferred, or cancelled with
	// the capture not yet voided.
	ListPendingPayments(ctx context.Context, limit int) ([]models.Booking, error)
}
