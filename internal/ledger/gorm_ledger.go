package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/skyhire/skyhire-backend/internal/models"
)

// gormStore is the Postgres-backed ledger. Guards live inside the SQL of
// each statement so concurrent callers racing on the same transition observe
// exactly one winner at the row lock, with no read-modify-write window.
type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Create(ctx context.Context, b *models.Booking) error {
	return s.db.WithContext(ctx).Create(b).Error
}

func (s *gormStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.WithContext(ctx).
		Preload("Customer").
		Preload("Pilot").
		First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *gormStore) AssignPilot(ctx context.Context, id string, pilotID uint) (bool, *models.Booking, error) {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE bookings
		SET pilot_id = ?, status = ?, updated_at = NOW()
		WHERE id = ? AND status = ? AND pilot_id IS NULL`,
		pilotID, models.BookingStatusAccepted, id, models.BookingStatusAvailable)
	if res.Error != nil {
		return false, nil, res.Error
	}
	b, err := s.Get(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return res.RowsAffected == 1, b, nil
}

func (s *gormStore) Cancel(ctx context.Context, id string) (bool, *models.Booking, error) {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE bookings
		SET status = ?, pilot_id = NULL, updated_at = NOW()
		WHERE id = ? AND status IN (?, ?)`,
		models.BookingStatusCancelled, id,
		models.BookingStatusAvailable, models.BookingStatusAccepted)
	if res.Error != nil {
		return false, nil, res.Error
	}
	b, err := s.Get(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return res.RowsAffected == 1, b, nil
}

func (s *gormStore) SetCompleted(ctx context.Context, id string, role models.ActorRole) (CompletionResult, error) {
	ownFlag, otherFlag := "customer_completed", "pilot_completed"
	if role == models.ActorRolePilot {
		ownFlag, otherFlag = "pilot_completed", "customer_completed"
	}

	// One statement flips the flag and, when the other flag is already set,
	// the status. The RETURNING clause tells this caller whether its write
	// was the one that made the booking completed.
	var row struct {
		Status models.BookingStatus
	}
	res := s.db.WithContext(ctx).Raw(fmt.Sprintf(`
		UPDATE bookings
		SET %s = TRUE,
		    status = CASE WHEN %s THEN 'completed' ELSE status END,
		    updated_at = NOW()
		WHERE id = ? AND status = 'accepted' AND %s = FALSE
		RETURNING status`, ownFlag, otherFlag, ownFlag), id).Scan(&row)
	if res.Error != nil {
		return CompletionResult{}, res.Error
	}

	b, err := s.Get(ctx, id)
	if err != nil {
		return CompletionResult{}, err
	}
	applied := res.RowsAffected == 1
	return CompletionResult{
		Applied:      applied,
		CompletedNow: applied && row.Status == models.BookingStatusCompleted,
		Booking:      b,
	}, nil
}

func (s *gormStore) MarkSettled(ctx context.Context, id, transferID string) (bool, error) {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE bookings
		SET settled = TRUE, transfer_id = ?, updated_at = NOW()
		WHERE id = ? AND status = ? AND settled = FALSE`,
		transferID, id, models.BookingStatusCompleted)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) MarkVoided(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE bookings
		SET voided = TRUE, updated_at = NOW()
		WHERE id = ? AND status = ? AND voided = FALSE`,
		id, models.BookingStatusCancelled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) SetTip(ctx context.Context, id string, amountCents int64) (bool, *models.Booking, error) {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE bookings
		SET tip_amount_cents = ?, updated_at = NOW()
		WHERE id = ? AND status = ? AND tip_amount_cents = 0`,
		amountCents, id, models.BookingStatusCompleted)
	if res.Error != nil {
		return false, nil, res.Error
	}
	b, err := s.Get(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return res.RowsAffected == 1, b, nil
}

func (s *gormStore) MarkTipSettled(ctx context.Context, id, transferID string) (bool, error) {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE bookings
		SET tip_transfer_id = ?, updated_at = NOW()
		WHERE id = ? AND tip_amount_cents > 0 AND tip_transfer_id = ''`,
		transferID, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) SetRated(ctx context.Context, id string, role models.ActorRole) (bool, *models.Booking, error) {
	flag := "customer_rated"
	if role == models.ActorRolePilot {
		flag = "pilot_rated"
	}
	res := s.db.WithContext(ctx).Exec(fmt.Sprintf(`
		UPDATE bookings
		SET %s = TRUE, updated_at = NOW()
		WHERE id = ? AND status = 'completed' AND %s = FALSE`, flag, flag), id)
	if res.Error != nil {
		return false, nil, res.Error
	}
	b, err := s.Get(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return res.RowsAffected == 1, b, nil
}

func (s *gormStore) ListAvailable(ctx context.Context, specialization string, page Page) ([]models.Booking, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("status = ?", models.BookingStatusAvailable)
	if specialization != "" {
		q = q.Where("specialization = ?", specialization)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var bookings []models.Booking
	if err := q.Preload("Customer").
		Order("created_at DESC").
		Offset(page.Offset).
		Limit(page.Limit).
		Find(&bookings).Error; err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

func (s *gormStore) ListByCustomer(ctx context.Context, customerID uint, page Page) ([]models.Booking, int64, error) {
	return s.listByParty(ctx, "customer_id = ?", customerID, "Pilot", page)
}

func (s *gormStore) ListByPilot(ctx context.Context, pilotID uint, page Page) ([]models.Booking, int64, error) {
	return s.listByParty(ctx, "pilot_id = ?", pilotID, "Customer", page)
}

func (s *gormStore) listByParty(ctx context.Context, cond string, userID uint, preload string, page Page) ([]models.Booking, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Booking{}).Where(cond, userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var bookings []models.Booking
	if err := q.Preload(preload).
		Order("created_at DESC").
		Offset(page.Offset).
		Limit(page.Limit).
		Find(&bookings).Error; err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

func (s *gormStore) ListPendingPayments(ctx context.Context, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.WithContext(ctx).
		Preload("Pilot").
		Where(`(status = ? AND (settled = FALSE OR (tip_amount_cents > 0 AND tip_transfer_id = '')))
		    OR (status = ? AND voided = FALSE)`,
			models.BookingStatusCompleted, models.BookingStatusCancelled).
		Order("updated_at ASC").
		Limit(limit).
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

var _ Store = (*gormStore)(nil)
