package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skyhire/skyhire-backend/internal/models"
)

// memoryStore keeps bookings in a map behind one mutex, so every transition
// is atomic with respect to concurrent callers, matching the conditional
// semantics of the Postgres store. Used in tests and local development.
type memoryStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
}

func NewMemoryStore() Store {
	return &memoryStore{bookings: make(map[string]*models.Booking)}
}

func (s *memoryStore) Create(ctx context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.Status == "" {
		b.Status = models.BookingStatusAvailable
	}
	cp := *b
	s.bookings[b.ID] = &cp
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(id)
}

// snapshot returns a copy of the stored row; callers must hold the mutex.
func (s *memoryStore) snapshot(id string) (*models.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	if b.PilotID != nil {
		pid := *b.PilotID
		cp.PilotID = &pid
	}
	return &cp, nil
}

func (s *memoryStore) AssignPilot(ctx context.Context, id string, pilotID uint) (bool, *models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, nil, ErrNotFound
	}
	applied := b.Status == models.BookingStatusAvailable && b.PilotID == nil
	if applied {
		b.PilotID = &pilotID
		b.Status = models.BookingStatusAccepted
		b.UpdatedAt = time.Now()
	}
	cp, _ := s.snapshot(id)
	return applied, cp, nil
}

func (s *memoryStore) Cancel(ctx context.Context, id string) (bool, *models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, nil, ErrNotFound
	}
	applied := b.Status == models.BookingStatusAvailable || b.Status == models.BookingStatusAccepted
	if applied {
		b.Status = models.BookingStatusCancelled
		b.PilotID = nil
		b.UpdatedAt = time.Now()
	}
	cp, _ := s.snapshot(id)
	return applied, cp, nil
}

func (s *memoryStore) SetCompleted(ctx context.Context, id string, role models.ActorRole) (CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return CompletionResult{}, ErrNotFound
	}

	applied := b.Status == models.BookingStatusAccepted && !b.CompletedBy(role)
	completedNow := false
	if applied {
		if role == models.ActorRolePilot {
			b.PilotCompleted = true
		} else {
			b.CustomerCompleted = true
		}
		if b.PilotCompleted && b.CustomerCompleted {
			b.Status = models.BookingStatusCompleted
			completedNow = true
		}
		b.UpdatedAt = time.Now()
	}
	cp, _ := s.snapshot(id)
	return CompletionResult{Applied: applied, CompletedNow: completedNow, Booking: cp}, nil
}

func (s *memoryStore) MarkSettled(ctx context.Context, id, transferID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != models.BookingStatusCompleted || b.Settled {
		return false, nil
	}
	b.Settled = true
	b.TransferID = transferID
	b.UpdatedAt = time.Now()
	return true, nil
}

func (s *memoryStore) MarkVoided(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != models.BookingStatusCancelled || b.Voided {
		return false, nil
	}
	b.Voided = true
	b.UpdatedAt = time.Now()
	return true, nil
}

func (s *memoryStore) SetTip(ctx context.Context, id string, amountCents int64) (bool, *models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, nil, ErrNotFound
	}
	applied := b.Status == models.BookingStatusCompleted && b.TipAmountCents == 0
	if applied {
		b.TipAmountCents = amountCents
		b.UpdatedAt = time.Now()
	}
	cp, _ := s.snapshot(id)
	return applied, cp, nil
}

func (s *memoryStore) MarkTipSettled(ctx context.Context, id, transferID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.TipAmountCents == 0 || b.TipTransferID != "" {
		return false, nil
	}
	b.TipTransferID = transferID
	b.UpdatedAt = time.Now()
	return true, nil
}

func (s *memoryStore) SetRated(ctx context.Context, id string, role models.ActorRole) (bool, *models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, nil, ErrNotFound
	}
	applied := b.Status == models.BookingStatusCompleted && !b.RatedBy(role)
	if applied {
		if role == models.ActorRolePilot {
			b.PilotRated = true
		} else {
			b.CustomerRated = true
		}
		b.UpdatedAt = time.Now()
	}
	cp, _ := s.snapshot(id)
	return applied, cp, nil
}

func (s *memoryStore) ListAvailable(ctx context.Context, specialization string, page Page) ([]models.Booking, int64, error) {
	return s.list(func(b *models.Booking) bool {
		if b.Status != models.BookingStatusAvailable {
			return false
		}
		return specialization == "" || b.Specialization == specialization
	}, page)
}

func (s *memoryStore) ListByCustomer(ctx context.Context, customerID uint, page Page) ([]models.Booking, int64, error) {
	return s.list(func(b *models.Booking) bool { return b.CustomerID == customerID }, page)
}

func (s *memoryStore) ListByPilot(ctx context.Context, pilotID uint, page Page) ([]models.Booking, int64, error) {
	return s.list(func(b *models.Booking) bool { return b.PilotID != nil && *b.PilotID == pilotID }, page)
}

func (s *memoryStore) list(match func(*models.Booking) bool, page Page) ([]models.Booking, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.Booking
	for id, b := range s.bookings {
		if match(b) {
			cp, _ := s.snapshot(id)
			all = append(all, *cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	if page.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[page.Offset:]
	if page.Limit > 0 && page.Limit < len(all) {
		all = all[:page.Limit]
	}
	return all, total, nil
}

func (s *memoryStore) ListPendingPayments(ctx context.Context, limit int) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []models.Booking
	for id, b := range s.bookings {
		settlementDue := b.Status == models.BookingStatusCompleted &&
			(!b.Settled || (b.TipAmountCents > 0 && b.TipTransferID == ""))
		voidDue := b.Status == models.BookingStatusCancelled && !b.Voided
		if settlementDue || voidDue {
			cp, _ := s.snapshot(id)
			pending = append(pending, *cp)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].UpdatedAt.Before(pending[j].UpdatedAt) })
	if limit > 0 && limit < len(pending) {
		pending = pending[:limit]
	}
	return pending, nil
}

var _ Store = (*memoryStore)(nil)
