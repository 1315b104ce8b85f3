package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// FakeGateway is an in-memory gateway used in tests and local development.
// It honors the idempotency contract: repeat transfers for a key return the
// original transfer id without moving funds again.
type FakeGateway struct {
	mu sync.Mutex

	FailCapture  bool
	FailTransfer bool
	FailVoid     bool

	captures  map[string]int64  // payment intent id -> held amount
	transfers map[string]string // idempotency key -> transfer id
	voided    map[string]int    // payment intent id -> void count

	TransferAmounts map[string]int64 // idempotency key -> amount, for assertions
	TransferCalls   int              // every Transfer invocation, deduped or not
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		captures:        make(map[string]int64),
		transfers:       make(map[string]string),
		voided:          make(map[string]int),
		TransferAmounts: make(map[string]int64),
	}
}

func (g *FakeGateway) Capture(ctx context.Context, amountCents int64, payerRef string) (*Capture, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCapture {
		return nil, ErrCaptureFailed
	}
	piID := "pi_" + uuid.New().String()
	g.captures[piID] = amountCents
	return &Capture{PaymentIntentID: piID, ChargeID: "ch_" + uuid.New().String()}, nil
}

func (g *FakeGateway) Transfer(ctx context.Context, chargeID, payeeRef string, amountCents int64, idempotencyKey string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.TransferCalls++
	if g.FailTransfer {
		return "", ErrTransferFailed
	}
	if id, ok := g.transfers[idempotencyKey]; ok {
		return id, nil
	}
	id := "tr_" + uuid.New().String()
	g.transfers[idempotencyKey] = id
	g.TransferAmounts[idempotencyKey] = amountCents
	return id, nil
}

func (g *FakeGateway) Void(ctx context.Context, paymentIntentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailVoid {
		return ErrVoidFailed
	}
	g.voided[paymentIntentID]++
	return nil
}

// TransferCount returns how many distinct transfers were effectively issued.
func (g *FakeGateway) TransferCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.transfers)
}

// VoidCount returns how many void calls landed for a payment intent.
func (g *FakeGateway) VoidCount(paymentIntentID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voided[paymentIntentID]
}

var _ PaymentGateway = (*FakeGateway)(nil)
