package database

import (
	"gorm.io/gorm"

	"github.com/skyhire/skyhire-backend/internal/models"
)

func RunMigrations(db *gorm.DB) error {
	// Create tables if they don't exist
	err := db.AutoMigrate(
		&models.User{},
		&models.Booking{},
		&models.Rating{},
	)
	if err != nil {
		return err
	}

	// Update user type constraint
	if db.Migrator().HasTable(&models.User{}) {
		db.Exec(`ALTER TABLE users DROP CONSTRAINT IF EXISTS users_user_type_check`)
		if err := db.Exec(`ALTER TABLE users ADD CONSTRAINT users_user_type_check CHECK (user_type IN ('customer', 'pilot'))`).Error; err != nil {
			return err
		}
	}

	// Schema-level backstops for the lifecycle invariants. The guarded
	// transitions are the enforcement; these make a buggy write fail loudly
	// instead of persisting an illegal combination.
	constraints := map[string]string{
		"bookings_status_check":    `CHECK (status IN ('available', 'accepted', 'completed', 'cancelled'))`,
		"bookings_amount_check":    `CHECK (amount_cents > 0)`,
		"bookings_tip_check":       `CHECK (tip_amount_cents >= 0)`,
		"bookings_hours_check":     `CHECK (estimated_hours > 0)`,
		"bookings_pilot_check":     `CHECK ((pilot_id IS NOT NULL) = (status IN ('accepted', 'completed')))`,
		"bookings_completed_check": `CHECK (status != 'completed' OR (pilot_completed AND customer_completed))`,
		"bookings_rated_check":     `CHECK ((NOT pilot_rated AND NOT customer_rated) OR status = 'completed')`,
		"bookings_settled_check":   `CHECK (NOT settled OR status = 'completed')`,
		"bookings_tip_gate_check":  `CHECK (tip_amount_cents = 0 OR status = 'completed')`,
	}

	for name, check := range constraints {
		db.Exec(`ALTER TABLE bookings DROP CONSTRAINT IF EXISTS ` + name)
		if err := db.Exec(`ALTER TABLE bookings ADD CONSTRAINT ` + name + ` ` + check).Error; err != nil {
			return err
		}
	}

	return nil
}
