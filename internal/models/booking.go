package models

import (
	"time"
)

type BookingStatus string

const (
	BookingStatusAvailable BookingStatus = "available"
	BookingStatusAccepted  BookingStatus = "accepted"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle transition is possible.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCompleted || s == BookingStatusCancelled
}

type ActorRole string

const (
	ActorRoleCustomer ActorRole = "customer"
	ActorRolePilot    ActorRole = "pilot"
)

// Booking is one flight request and its full settlement state. All money is
// in cents. Status is never written directly by clients; every change goes
// through a guarded transition in the ledger store.
type Booking struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	CustomerID uint  `json:"customerId" gorm:"not null;index"`
	Customer   *User `json:"customer,omitempty"`
	PilotID    *uint `json:"pilotId" gorm:"index"`
	Pilot      *User `json:"pilot,omitempty"`

	AmountCents     int64   `json:"amountCents" gorm:"not null"`
	TipAmountCents  int64   `json:"tipAmountCents" gorm:"not null;default:0"`
	EstimatedHours  float64 `json:"estimatedHours" gorm:"not null"`
	RequiredMinRank int     `json:"requiredMinRank" gorm:"not null;default:0"`

	// Scheduling and location are pass-through for clients.
	Specialization string    `json:"specialization" gorm:"index"`
	PickupLat      float64   `json:"pickupLat"`
	PickupLng      float64   `json:"pickupLng"`
	PickupAddr     string    `json:"pickupAddr"`
	DropoffLat     float64   `json:"dropoffLat"`
	DropoffLng     float64   `json:"dropoffLng"`
	DropoffAddr    string    `json:"dropoffAddr"`
	ScheduledAt    time.Time `json:"scheduledAt"`

	// Gateway references. PaymentIntentID and ChargeID are captured at
	// creation and never change; TransferID / TipTransferID are written at
	// most once by settlement.
	PaymentIntentID string `json:"-" gorm:"not null"`
	ChargeID        string `json:"-"`
	TransferID      string `json:"-"`
	TipTransferID   string `json:"-"`

	PilotCompleted    bool `json:"pilotCompleted" gorm:"not null;default:false"`
	CustomerCompleted bool `json:"customerCompleted" gorm:"not null;default:false"`
	PilotRated        bool `json:"pilotRated" gorm:"not null;default:false"`
	CustomerRated     bool `json:"customerRated" gorm:"not null;default:false"`
	Settled           bool `json:"settled" gorm:"not null;default:false"`
	Voided            bool `json:"-" gorm:"not null;default:false"`

	Status BookingStatus `json:"status" gorm:"not null;default:'available';index"`
}

func (Booking) TableName() string {
	return "bookings"
}

// CompletedBy reports the completion flag for one side.
func (b *Booking) CompletedBy(role ActorRole) bool {
	if role == ActorRolePilot {
		return b.PilotCompleted
	}
	return b.CustomerCompleted
}

// RatedBy reports the rated flag for one side.
func (b *Booking) RatedBy(role ActorRole) bool {
	if role == ActorRolePilot {
		return b.PilotRated
	}
	return b.CustomerRated
}
