package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserType string

const (
	UserTypeCustomer UserType = "customer"
	UserTypePilot    UserType = "pilot"
)

type User struct {
	gorm.Model
	Username     string `json:"username" gorm:"column:username;unique;not null"`
	Email        string `json:"email" gorm:"column:email;unique;not null"`
	Password     string `json:"-" gorm:"-:migration"` // Temporary field for password handling
	PasswordHash string `json:"-" gorm:"column:password_hash;not null"`
	PhoneNumber  string `json:"phoneNumber" gorm:"column:phone_number"`
	UserType     string `json:"userType" gorm:"column:user_type;not null"`

	// Pilot profile. Rank is recomputed from flight hours by the stats
	// recorder, never set by clients.
	PilotRank         int     `json:"pilotRank" gorm:"column:pilot_rank;not null;default:0"`
	FlightHours       float64 `json:"flightHours" gorm:"column:flight_hours;not null;default:0"`
	Specialization    string  `json:"specialization" gorm:"column:specialization"`
	DroneModel        string  `json:"droneModel" gorm:"column:drone_model"`
	DroneRegistration string  `json:"droneRegistration" gorm:"column:drone_registration"`
	PayoutAccountID   string  `json:"-" gorm:"column:payout_account_id"`

	// Rating aggregates, owned by the stats recorder.
	RatingCount int64   `json:"ratingCount" gorm:"column:rating_count;not null;default:0"`
	RatingSum   float64 `json:"-" gorm:"column:rating_sum;not null;default:0"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

// AverageRating returns the mean submitted score, or 0 with no ratings.
func (u *User) AverageRating() float64 {
	if u.RatingCount == 0 {
		return 0
	}
	return u.RatingSum / float64(u.RatingCount)
}

func (u *User) HashPassword() error {
	if u.Password == "" {
		return nil
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}
