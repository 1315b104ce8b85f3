package models

import (
	"gorm.io/gorm"
)

// Rating is one submitted review. The booking's rated flags are the gate;
// this row is the record the aggregates are built from.
type Rating struct {
	gorm.Model
	BookingID  string    `json:"bookingId" gorm:"not null;index"`
	FromUserID uint      `json:"fromUserId" gorm:"not null"`
	ToUserID   uint      `json:"toUserId" gorm:"not null;index"`
	Role       ActorRole `json:"role" gorm:"not null"`
	Score      float64   `json:"score" gorm:"not null"`
	Comment    string    `json:"comment"`
}

func (Rating) TableName() string {
	return "ratings"
}
