package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/skyhire/skyhire-backend/internal/engine"
	"github.com/skyhire/skyhire-backend/internal/ledger"
	"github.com/skyhire/skyhire-backend/internal/models"
	"github.com/skyhire/skyhire-backend/internal/services"
)

// AcceptBooking allows a pilot to take an available booking. The rank in
// the token is checked against the booking's required minimum; the
// assignment itself races safely, so two pilots accepting at once get one
// winner and one AlreadyAssigned.
func AcceptBooking(eng *engine.Engine, hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingId := c.Param("bookingId")
		pilotId := c.GetUint("userId")
		pilotRank := c.GetInt("pilotRank")
		userType := c.GetString("userType")

		if userType != string(models.UserTypePilot) {
			c.JSON(403, gin.H{"error": "Only pilots can accept bookings"})
			return
		}

		status, err := eng.Accept(c.Request.Context(), bookingId, pilotId, pilotRank)
		if err != nil {
			switch {
			case errors.Is(err, ledger.ErrNotFound):
				c.JSON(404, gin.H{"error": "Booking not found"})
			case errors.Is(err, engine.ErrRankTooLow):
				c.JSON(403, gin.H{"error": "Pilot rank is below the required minimum"})
			case errors.Is(err, engine.ErrAlreadyAssigned):
				c.JSON(409, gin.H{"error": "Booking is no longer available"})
			case errors.Is(err, engine.ErrAlreadyTerminal):
				c.JSON(409, gin.H{"error": "Booking is already completed or cancelled"})
			default:
				c.JSON(500, gin.H{"error": "Failed to accept booking"})
			}
			return
		}

		// Pilot is committed to this flight now
		services.SetPilotAvailability(context.Background(), pilotId, false)
		services.PublishBookingUpdate(context.Background(), bookingId, string(status), map[string]interface{}{
			"pilotId": pilotId,
		})

		booking, err := eng.GetBooking(c.Request.Context(), bookingId)
		if err == nil {
			accepted := services.BookingAccepted{
				BookingID: bookingId,
				PilotID:   pilotId,
				PilotRank: pilotRank,
			}
			if booking.Pilot != nil {
				accepted.PilotName = booking.Pilot.Username
			}
			hub.SendBookingAccepted(booking.CustomerID, accepted)
		}

		c.JSON(200, gin.H{
			"message":   "Booking accepted successfully",
			"bookingId": bookingId,
			"status":    status,
		})
	}
}

// CancelBooking cancels a non-terminal booking and releases the held
// payment. Either party may cancel; completion, once both sides confirmed,
// wins any race against cancellation.
func CancelBooking(eng *engine.Engine, hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingId := c.Param("bookingId")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		booking, err := eng.GetBooking(c.Request.Context(), bookingId)
		if err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}
		if !isParticipant(booking, userId) {
			c.JSON(403, gin.H{"error": "Unauthorized to cancel this booking"})
			return
		}
		formerPilotID := booking.PilotID

		status, err := eng.Cancel(c.Request.Context(), bookingId)
		if err != nil {
			if errors.Is(err, engine.ErrAlreadyTerminal) {
				c.JSON(409, gin.H{"error": "Booking is already completed or cancelled"})
				return
			}
			c.JSON(500, gin.H{"error": "Failed to cancel booking"})
			return
		}

		services.PublishBookingUpdate(context.Background(), bookingId, string(status), nil)

		// Notify the party that did not cancel
		cancelled := services.BookingCancelled{BookingID: bookingId, CancelledBy: userType}
		if userType == string(models.UserTypeCustomer) {
			if formerPilotID != nil {
				hub.SendBookingCancelled(*formerPilotID, cancelled)
				services.SetPilotAvailability(context.Background(), *formerPilotID, true)
			}
		} else {
			hub.SendBookingCancelled(booking.CustomerID, cancelled)
			services.SetPilotAvailability(context.Background(), userId, true)
		}

		c.JSON(200, gin.H{
			"message":   "Booking cancelled",
			"bookingId": bookingId,
			"status":    status,
		})
	}
}
