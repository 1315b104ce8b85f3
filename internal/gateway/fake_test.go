package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeGateway_TransferIdempotency(t *testing.T) {
	g := NewFakeGateway()
	ctx := context.Background()

	first, err := g.Transfer(ctx, "ch_1", "acct_1", 10000, "booking:abc:completion")
	require.NoError(t, err)

	second, err := g.Transfer(ctx, "ch_1", "acct_1", 10000, "booking:abc:completion")
	require.NoError(t, err)
	assert.Equal(t, first, second, "a replayed key must return the original transfer")
	assert.Equal(t, 1, g.TransferCount())
	assert.Equal(t, 2, g.TransferCalls)

	// A different key is a different transfer.
	tip, err := g.Transfer(ctx, "ch_1", "acct_1", 1500, "booking:abc:tip")
	require.NoError(t, err)
	assert.NotEqual(t, first, tip)
	assert.Equal(t, 2, g.TransferCount())
}

func TestFakeGateway_FailureToggles(t *testing.T) {
	g := NewFakeGateway()
	ctx := context.Background()

	g.FailCapture = true
	_, err := g.Capture(ctx, 10000, "pm_1")
	assert.ErrorIs(t, err, ErrCaptureFailed)

	g.FailTransfer = true
	_, err = g.Transfer(ctx, "ch_1", "acct_1", 10000, "k1")
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, 0, g.TransferCount(), "a failed transfer must not be recorded")

	g.FailVoid = true
	err = g.Void(ctx, "pi_1")
	assert.ErrorIs(t, err, ErrVoidFailed)
	assert.Equal(t, 0, g.VoidCount("pi_1"))
}

func TestFakeGateway_CaptureAndVoid(t *testing.T) {
	g := NewFakeGateway()
	ctx := context.Background()

	cap, err := g.Capture(ctx, 10000, "pm_1")
	require.NoError(t, err)
	assert.NotEmpty(t, cap.PaymentIntentID)
	assert.NotEmpty(t, cap.ChargeID)

	require.NoError(t, g.Void(ctx, cap.PaymentIntentID))
	assert.Equal(t, 1, g.VoidCount(cap.PaymentIntentID))
}
