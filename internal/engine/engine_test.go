package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skyhire/skyhire-backend/internal/gateway"
	"github.com/skyhire/skyhire-backend/internal/ledger"
	"github.com/skyhire/skyhire-backend/internal/models"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordCompletion(ctx context.Context, pilotID uint, hours float64) error {
	args := m.Called(ctx, pilotID, hours)
	return args.Error(0)
}

func (m *MockRecorder) RecordRating(ctx context.Context, r models.Rating) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func newTestEngine(t *testing.T) (*Engine, ledger.Store, *gateway.FakeGateway, *MockRecorder) {
	t.Helper()
	store := ledger.NewMemoryStore()
	gw := gateway.NewFakeGateway()
	rec := &MockRecorder{}
	rec.On("RecordCompletion", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	rec.On("RecordRating", mock.Anything, mock.Anything).Return(nil).Maybe()
	return New(store, gw, rec, zap.NewNop()), store, gw, rec
}

func createTestBooking(t *testing.T, e *Engine, amountCents int64, hours float64, minRank int) *models.Booking {
	t.Helper()
	b, err := e.CreateBooking(context.Background(), CreateBookingInput{
		CustomerID:      1,
		PayerRef:        "pm_test",
		AmountCents:     amountCents,
		EstimatedHours:  hours,
		RequiredMinRank: minRank,
	})
	require.NoError(t, err)
	return b
}

func TestCreateBooking_CaptureFailureMeansNoBooking(t *testing.T) {
	e, _, gw, _ := newTestEngine(t)
	gw.FailCapture = true

	_, err := e.CreateBooking(context.Background(), CreateBookingInput{
		CustomerID:     1,
		PayerRef:       "pm_test",
		AmountCents:    10000,
		EstimatedHours: 2,
	})
	assert.ErrorIs(t, err, ErrFundsNotCaptured)
}

func TestCreateBooking_HoldsFundsBeforePersisting(t *testing.T) {
	e, store, _, _ := newTestEngine(t)

	b := createTestBooking(t, e, 10000, 2, 1)
	assert.Equal(t, models.BookingStatusAvailable, b.Status)
	assert.NotEmpty(t, b.PaymentIntentID)
	assert.NotEmpty(t, b.ChargeID)

	stored, err := store.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.PaymentIntentID, stored.PaymentIntentID)
}

func TestCreateBooking_RejectsBadInput(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateBooking(ctx, CreateBookingInput{CustomerID: 1, AmountCents: 0, EstimatedHours: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.CreateBooking(ctx, CreateBookingInput{CustomerID: 1, AmountCents: 100, EstimatedHours: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.CreateBooking(ctx, CreateBookingInput{CustomerID: 1, AmountCents: 100, EstimatedHours: 1, RequiredMinRank: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAccept_AssignsPilot(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 1)

	status, err := e.Accept(context.Background(), b.ID, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, status)

	stored, err := e.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PilotID)
	assert.Equal(t, uint(7), *stored.PilotID)
}

func TestAccept_RankTooLow(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 2)

	_, err := e.Accept(context.Background(), b.ID, 7, 0)
	assert.ErrorIs(t, err, ErrRankTooLow)

	stored, err := e.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAvailable, stored.Status)
	assert.Nil(t, stored.PilotID)
}

func TestAccept_AlreadyAssigned(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 0)

	_, err := e.Accept(context.Background(), b.ID, 7, 1)
	require.NoError(t, err)

	_, err = e.Accept(context.Background(), b.ID, 8, 1)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)

	stored, _ := e.GetBooking(context.Background(), b.ID)
	assert.Equal(t, uint(7), *stored.PilotID)
}

func TestAccept_ConcurrentPilotsOneWinner(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 0)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Accept(context.Background(), b.ID, uint(10+i), 1)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyAssigned)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestMarkComplete_OneSideKeepsAccepted(t *testing.T) {
	e, _, gw, rec := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 0)
	_, err := e.Accept(context.Background(), b.ID, 7, 1)
	require.NoError(t, err)

	status, err := e.MarkComplete(context.Background(), b.ID, models.ActorRolePilot)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, status)

	stored, _ := e.GetBooking(context.Background(), b.ID)
	assert.True(t, stored.PilotCompleted)
	assert.False(t, stored.CustomerCompleted)
	assert.Equal(t, 0, gw.TransferCalls)
	rec.AssertNotCalled(t, "RecordCompletion", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkComplete_BothSidesSettleOnce(t *testing.T) {
	e, _, gw, rec := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 1)
	_, err := e.Accept(context.Background(), b.ID, 7, 2)
	require.NoError(t, err)

	status, err := e.MarkComplete(context.Background(), b.ID, models.ActorRolePilot)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, status)

	status, err = e.MarkComplete(context.Background(), b.ID, models.ActorRoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, status)

	stored, _ := e.GetBooking(context.Background(), b.ID)
	assert.True(t, stored.Settled)
	assert.NotEmpty(t, stored.TransferID)
	assert.Equal(t, 1, gw.TransferCalls)
	assert.Equal(t, int64(10000), gw.TransferAmounts[fmt.Sprintf("booking:%s:completion", b.ID)])
	rec.AssertCalled(t, "RecordCompletion", mock.Anything, uint(7), 2.0)
}

func TestMarkComplete_RepeatIsNoOp(t *testing.T) {
	e, _, gw, _ := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 0)
	_, err := e.Accept(context.Background(), b.ID, 7, 1)
	require.NoError(t, err)

	first, err := e.MarkComplete(context.Background(), b.ID, models.ActorRolePilot)
	require.NoError(t, err)

	second, err := e.MarkComplete(context.Background(), b.ID, models.ActorRolePilot)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Complete the other side, then retry both: no extra transfers.
	_, err = e.MarkComplete(context.Background(), b.ID, models.ActorRoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, 1, gw.TransferCalls)

	status, err := e.MarkComplete(context.Background(), b.ID, models.ActorRoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, status)
	assert.Equal(t, 1, gw.TransferCalls)
}

func TestMarkComplete_ConcurrentPartiesSettleExactlyOnce(t *testing.T) {
	for i := 0; i < 1000; i++ {
		e, _, gw, _ := newTestEngine(t)
		b := createTestBooking(t, e, 10000, 2, 0)
		_, err := e.Accept(context.Background(), b.ID, 7, 1)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.MarkComplete(context.Background(), b.ID, models.ActorRolePilot)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.MarkComplete(context.Background(), b.ID, models.ActorRoleCustomer)
			assert.NoError(t, err)
		}()
		wg.Wait()

		stored, err := e.GetBooking(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusCompleted, stored.Status)
		require.LessOrEqual(t, gw.TransferCalls, 1, "iteration %d issued %d transfers", i, gw.TransferCalls)
		assert.True(t, stored.Settled)
	}
}

func TestCancel_AvailableVoidsCapture(t *testing.T) {
	e, _, gw, _ := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 0)

	status, err := e.Cancel(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, status)
	assert.Equal(t, 1, gw.VoidCount(b.PaymentIntentID))

	stored, _ := e.GetBooking(context.Background(), b.ID)
	assert.True(t, stored.Voided)
}

func TestCancel_AcceptedThenFormerPilotCannotComplete(t *testing.T) {
	e, _, gw, _ := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 0)
	_, err := e.Accept(context.Background(), b.ID, 7, 1)
	require.NoError(t, err)

	status, err := e.Cancel(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, status)
	assert.Equal(t, 1, gw.VoidCount(b.PaymentIntentID))

	// Pilot assignment is gone in the cancelled state
	stored, _ := e.GetBooking(context.Background(), b.ID)
	assert.Nil(t, stored.PilotID)

	_, err = e.MarkComplete(context.Background(), b.ID, models.ActorRolePilot)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, 0, gw.TransferCalls)
}

func TestCancel_CompletedFailsAndChangesNothing(t *testing.T) {
	e, _, gw, _ := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 0)
	_, err := e.Accept(context.Background(), b.ID, 7, 1)
	require.NoError(t, err)
	_, err = e.MarkComplete(context.Background(), b.ID, models.ActorRolePilot)
	require.NoError(t, err)
	_, err = e.MarkComplete(context.Background(), b.ID, models.ActorRoleCustomer)
	require.NoError(t, err)

	before, _ := e.GetBooking(context.Background(), b.ID)

	_, err = e.Cancel(context.Background(), b.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, 0, gw.VoidCount(b.PaymentIntentID))

	after, _ := e.GetBooking(context.Background(), b.ID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Settled, after.Settled)
	assert.Equal(t, before.PilotID, after.PilotID)
	assert.Equal(t, before.AmountCents, after.AmountCents)
}

func TestSettlementFailureLeavesCompletedUnsettled(t *testing.T) {
	e, _, gw, _ := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 0)
	_, err := e.Accept(context.Background(), b.ID, 7, 1)
	require.NoError(t, err)
	_, err = e.MarkComplete(context.Background(), b.ID, models.ActorRolePilot)
	require.NoError(t, err)

	gw.FailTransfer = true
	status, err := e.MarkComplete(context.Background(), b.ID, models.ActorRoleCustomer)
	require.NoError(t, err, "a gateway outage must not fail the completion")
	assert.Equal(t, models.BookingStatusCompleted, status)

	stored, _ := e.GetBooking(context.Background(), b.ID)
	assert.False(t, stored.Settled)

	// The reconciler finishes the transfer with the same idempotency token.
	gw.FailTransfer = false
	require.NoError(t, e.ReconcilePending(context.Background()))

	stored, _ = e.GetBooking(context.Background(), b.ID)
	assert.True(t, stored.Settled)
	assert.Equal(t, 1, gw.TransferCount())

	// Another pass is a no-op.
	require.NoError(t, e.ReconcilePending(context.Background()))
	assert.Equal(t, 1, gw.TransferCount())
}

func TestReconciler_RetriesFailedVoid(t *testing.T) {
	e, _, gw, _ := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 0)

	gw.FailVoid = true
	_, err := e.Cancel(context.Background(), b.ID)
	require.NoError(t, err)

	stored, _ := e.GetBooking(context.Background(), b.ID)
	assert.False(t, stored.Voided)

	gw.FailVoid = false
	require.NoError(t, e.ReconcilePending(context.Background()))

	stored, _ = e.GetBooking(context.Background(), b.ID)
	assert.True(t, stored.Voided)
	assert.Equal(t, 1, gw.VoidCount(b.PaymentIntentID))
}

func completedBooking(t *testing.T, e *Engine) *models.Booking {
	t.Helper()
	b := createTestBooking(t, e, 10000, 2, 1)
	_, err := e.Accept(context.Background(), b.ID, 7, 2)
	require.NoError(t, err)
	_, err = e.MarkComplete(context.Background(), b.ID, models.ActorRolePilot)
	require.NoError(t, err)
	_, err = e.MarkComplete(context.Background(), b.ID, models.ActorRoleCustomer)
	require.NoError(t, err)
	return b
}

func TestAddTip_TransfersOnceAndOnlyOnce(t *testing.T) {
	e, _, gw, _ := newTestEngine(t)
	b := completedBooking(t, e)

	require.NoError(t, e.AddTip(context.Background(), b.ID, 1500))
	assert.Equal(t, int64(1500), gw.TransferAmounts[fmt.Sprintf("booking:%s:tip", b.ID)])

	err := e.AddTip(context.Background(), b.ID, 2000)
	assert.ErrorIs(t, err, ErrTipAlreadySet)

	stored, _ := e.GetBooking(context.Background(), b.ID)
	assert.Equal(t, int64(1500), stored.TipAmountCents)
	assert.NotEmpty(t, stored.TipTransferID)
	assert.Equal(t, 2, gw.TransferCount()) // base settlement + tip
}

func TestAddTip_RequiresCompletion(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 0)
	_, err := e.Accept(context.Background(), b.ID, 7, 1)
	require.NoError(t, err)

	err = e.AddTip(context.Background(), b.ID, 1500)
	assert.ErrorIs(t, err, ErrNotCompleted)

	err = e.AddTip(context.Background(), b.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAddTip_TransferFailureRecoveredByReconciler(t *testing.T) {
	e, _, gw, _ := newTestEngine(t)
	b := completedBooking(t, e)

	gw.FailTransfer = true
	require.NoError(t, e.AddTip(context.Background(), b.ID, 1500))

	stored, _ := e.GetBooking(context.Background(), b.ID)
	assert.Equal(t, int64(1500), stored.TipAmountCents)
	assert.Empty(t, stored.TipTransferID)

	gw.FailTransfer = false
	require.NoError(t, e.ReconcilePending(context.Background()))

	stored, _ = e.GetBooking(context.Background(), b.ID)
	assert.NotEmpty(t, stored.TipTransferID)
}

func TestSubmitRating_GatedOnCompletion(t *testing.T) {
	e, _, _, rec := newTestEngine(t)
	b := createTestBooking(t, e, 10000, 2, 0)
	_, err := e.Accept(context.Background(), b.ID, 7, 1)
	require.NoError(t, err)

	err = e.SubmitRating(context.Background(), b.ID, models.ActorRoleCustomer, 1, 5, "great flight")
	assert.ErrorIs(t, err, ErrNotCompleted)
	rec.AssertNotCalled(t, "RecordRating", mock.Anything, mock.Anything)
}

func TestSubmitRating_OncePerSide(t *testing.T) {
	e, _, _, rec := newTestEngine(t)
	b := completedBooking(t, e)

	require.NoError(t, e.SubmitRating(context.Background(), b.ID, models.ActorRoleCustomer, 1, 5, "great flight"))
	err := e.SubmitRating(context.Background(), b.ID, models.ActorRoleCustomer, 1, 4, "second thoughts")
	assert.ErrorIs(t, err, ErrAlreadyRated)

	// The pilot's side is independent.
	require.NoError(t, e.SubmitRating(context.Background(), b.ID, models.ActorRolePilot, 7, 4, ""))

	rec.AssertNumberOfCalls(t, "RecordRating", 2)
}

func TestSubmitRating_ScoreRange(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	b := completedBooking(t, e)

	err := e.SubmitRating(context.Background(), b.ID, models.ActorRoleCustomer, 1, 5.5, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	err = e.SubmitRating(context.Background(), b.ID, models.ActorRoleCustomer, 1, -1, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, e.SubmitRating(context.Background(), b.ID, models.ActorRoleCustomer, 1, 0, "zero is a valid score"))
}

// Full walkthrough of the marketplace flow: $100.00 flight, rank-2 pilot
// against a rank-1 requirement, mutual completion, $15.00 tip.
func TestBookingLifecycle_EndToEnd(t *testing.T) {
	e, _, gw, _ := newTestEngine(t)
	ctx := context.Background()

	b := createTestBooking(t, e, 10000, 2.0, 1)

	status, err := e.Accept(ctx, b.ID, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, status)

	status, err = e.MarkComplete(ctx, b.ID, models.ActorRolePilot)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, status)
	stored, _ := e.GetBooking(ctx, b.ID)
	assert.True(t, stored.PilotCompleted)

	status, err = e.MarkComplete(ctx, b.ID, models.ActorRoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, status)
	assert.Equal(t, int64(10000), gw.TransferAmounts[fmt.Sprintf("booking:%s:completion", b.ID)])

	require.NoError(t, e.AddTip(ctx, b.ID, 1500))
	assert.Equal(t, int64(1500), gw.TransferAmounts[fmt.Sprintf("booking:%s:tip", b.ID)])

	err = e.AddTip(ctx, b.ID, 1500)
	assert.ErrorIs(t, err, ErrTipAlreadySet)
	assert.Equal(t, 2, gw.TransferCount())
}

// Invariant check over randomized event sequences: completed iff both
// completion flags, settlement at most once, ratings and tip only after
// completion.
func TestLifecycleInvariants_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for seq := 0; seq < 200; seq++ {
		e, _, gw, _ := newTestEngine(t)
		b := createTestBooking(t, e, 10000, 2, 0)

		for step := 0; step < 12; step++ {
			switch rng.Intn(6) {
			case 0:
				e.Accept(ctx, b.ID, 7, 1)
			case 1:
				e.Cancel(ctx, b.ID)
			case 2:
				e.MarkComplete(ctx, b.ID, models.ActorRolePilot)
			case 3:
				e.MarkComplete(ctx, b.ID, models.ActorRoleCustomer)
			case 4:
				e.SubmitRating(ctx, b.ID, models.ActorRoleCustomer, 1, float64(rng.Intn(6)), "")
			case 5:
				e.AddTip(ctx, b.ID, 500)
			}

			s, err := e.GetBooking(ctx, b.ID)
			require.NoError(t, err)

			completed := s.PilotCompleted && s.CustomerCompleted
			assert.Equal(t, completed, s.Status == models.BookingStatusCompleted,
				"seq %d step %d: completed status must equal both flags", seq, step)
			assert.Equal(t, s.PilotID != nil,
				s.Status == models.BookingStatusAccepted || s.Status == models.BookingStatusCompleted,
				"seq %d step %d: pilot set iff accepted or completed", seq, step)
			if s.Settled || s.PilotRated || s.CustomerRated || s.TipAmountCents > 0 {
				assert.Equal(t, models.BookingStatusCompleted, s.Status, "seq %d step %d", seq, step)
			}
			assert.LessOrEqual(t, len(gw.TransferAmounts), 2, "seq %d step %d", seq, step)
		}
	}
}
