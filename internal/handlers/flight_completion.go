package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/skyhire/skyhire-backend/internal/engine"
	"github.com/skyhire/skyhire-backend/internal/models"
	"github.com/skyhire/skyhire-backend/internal/services"
)

func actorRole(userType string) models.ActorRole {
	if userType == string(models.UserTypePilot) {
		return models.ActorRolePilot
	}
	return models.ActorRoleCustomer
}

// MarkComplete records one side's completion confirmation. The call is
// idempotent: resubmitting after a timeout returns the current status
// without side effects, and the booking becomes completed only when both
// sides have confirmed.
func MarkComplete(eng *engine.Engine, hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingId := c.Param("bookingId")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")
		role := actorRole(userType)

		booking, err := eng.GetBooking(c.Request.Context(), bookingId)
		if err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}
		// A cancelled booking has no pilot anymore, so a former pilot's
		// retry cannot pass the party check; let the engine answer that
		// one with AlreadyTerminal instead of a misleading authorization
		// error. Every other state keeps the party check.
		if booking.Status != models.BookingStatusCancelled && !isActorParty(booking, role, userId) {
			c.JSON(403, gin.H{"error": "Unauthorized to complete this booking"})
			return
		}

		status, err := eng.MarkComplete(c.Request.Context(), bookingId, role)
		if err != nil {
			switch {
			case errors.Is(err, engine.ErrAlreadyTerminal):
				c.JSON(409, gin.H{"error": "Booking is already completed or cancelled"})
			case errors.Is(err, engine.ErrNotAccepted):
				c.JSON(400, gin.H{"error": "Booking has not been accepted yet"})
			default:
				c.JSON(500, gin.H{"error": "Failed to mark booking complete"})
			}
			return
		}

		// A retry that found the flag already set changed nothing; don't
		// replay events for it.
		if booking.CompletedBy(role) {
			c.JSON(200, gin.H{
				"message":   "Completion recorded",
				"bookingId": bookingId,
				"status":    status,
			})
			return
		}

		services.PublishBookingUpdate(context.Background(), bookingId, string(status), map[string]interface{}{
			"confirmedBy": string(role),
		})

		// Tell the counterparty what happened
		counterparty := booking.CustomerID
		if role == models.ActorRoleCustomer && booking.PilotID != nil {
			counterparty = *booking.PilotID
		}
		if status == models.BookingStatusCompleted {
			hub.SendBookingCompleted(counterparty, services.BookingCompleted{
				BookingID:   bookingId,
				AmountCents: booking.AmountCents,
			})
		} else {
			hub.SendCompletionConfirmed(counterparty, services.CompletionConfirmed{
				BookingID: bookingId,
				Role:      string(role),
			})
		}

		c.JSON(200, gin.H{
			"message":   "Completion recorded",
			"bookingId": bookingId,
			"status":    status,
		})
	}
}

// SubmitRating allows rating the counterparty after completion
func SubmitRating(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingId := c.Param("bookingId")
		userId := c.GetUint("userId")
		role := actorRole(c.GetString("userType"))

		var input struct {
			Score   float64 `json:"score" binding:"required"`
			Comment string  `json:"comment,omitempty"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		booking, err := eng.GetBooking(c.Request.Context(), bookingId)
		if err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}
		if !isActorParty(booking, role, userId) {
			c.JSON(403, gin.H{"error": "Unauthorized to rate this booking"})
			return
		}

		if err := eng.SubmitRating(c.Request.Context(), bookingId, role, userId, input.Score, input.Comment); err != nil {
			switch {
			case errors.Is(err, engine.ErrInvalidInput):
				c.JSON(400, gin.H{"error": "Score must be between 0 and 5"})
			case errors.Is(err, engine.ErrNotCompleted):
				c.JSON(400, gin.H{"error": "Booking must be completed before rating"})
			case errors.Is(err, engine.ErrAlreadyRated):
				c.JSON(409, gin.H{"error": "Rating already submitted"})
			default:
				c.JSON(500, gin.H{"error": "Failed to submit rating"})
			}
			return
		}

		c.JSON(200, gin.H{
			"message":   "Rating submitted",
			"bookingId": bookingId,
			"score":     input.Score,
		})
	}
}

// AddTip lets the customer tip the pilot once after completion. The
// supplemental transfer rides the same idempotency scheme as settlement.
func AddTip(eng *engine.Engine, hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingId := c.Param("bookingId")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeCustomer) {
			c.JSON(403, gin.H{"error": "Only customers can add a tip"})
			return
		}

		var input struct {
			AmountCents int64 `json:"amountCents" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		booking, err := eng.GetBooking(c.Request.Context(), bookingId)
		if err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}
		if booking.CustomerID != userId {
			c.JSON(403, gin.H{"error": "Unauthorized to tip this booking"})
			return
		}

		if err := eng.AddTip(c.Request.Context(), bookingId, input.AmountCents); err != nil {
			switch {
			case errors.Is(err, engine.ErrInvalidInput):
				c.JSON(400, gin.H{"error": "Tip must be positive"})
			case errors.Is(err, engine.ErrNotCompleted):
				c.JSON(400, gin.H{"error": "Booking must be completed before tipping"})
			case errors.Is(err, engine.ErrTipAlreadySet):
				c.JSON(409, gin.H{"error": "Tip already set"})
			default:
				c.JSON(500, gin.H{"error": "Failed to add tip"})
			}
			return
		}

		if booking.PilotID != nil {
			hub.SendTipAdded(*booking.PilotID, services.TipAdded{
				BookingID: bookingId,
				TipCents:  input.AmountCents,
			})
		}

		c.JSON(200, gin.H{
			"message":   "Tip added",
			"bookingId": bookingId,
		})
	}
}

// isActorParty checks that the caller is the booking party matching the role
func isActorParty(b *models.Booking, role models.ActorRole, userId uint) bool {
	if role == models.ActorRolePilot {
		return b.PilotID != nil && *b.PilotID == userId
	}
	return b.CustomerID == userId
}
