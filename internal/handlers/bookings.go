package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skyhire/skyhire-backend/internal/engine"
	"github.com/skyhire/skyhire-backend/internal/ledger"
	"github.com/skyhire/skyhire-backend/internal/models"
	"github.com/skyhire/skyhire-backend/pkg/utils"
)

// CreateBooking handles the creation of a new flight booking. Payment is
// captured before the booking exists; a capture failure means no booking.
func CreateBooking(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeCustomer) {
			c.JSON(403, gin.H{"error": "Only customers can create bookings"})
			return
		}

		var input struct {
			PaymentMethod   string  `json:"paymentMethod" binding:"required"`
			AmountCents     int64   `json:"amountCents" binding:"required"`
			EstimatedHours  float64 `json:"estimatedHours" binding:"required"`
			RequiredMinRank int     `json:"requiredMinRank"`
			Specialization  string  `json:"specialization"`
			PickupLat       float64 `json:"pickupLat"`
			PickupLng       float64 `json:"pickupLng"`
			PickupAddr      string  `json:"pickupAddr"`
			DropoffLat      float64 `json:"dropoffLat"`
			DropoffLng      float64 `json:"dropoffLng"`
			DropoffAddr     string  `json:"dropoffAddr"`
			ScheduledAt     string  `json:"scheduledAt"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		scheduledAt := time.Now()
		if input.ScheduledAt != "" {
			parsed, err := time.Parse(time.RFC3339, input.ScheduledAt)
			if err != nil {
				c.JSON(400, gin.H{"error": "Invalid scheduledAt, expected RFC3339"})
				return
			}
			scheduledAt = parsed
		}

		booking, err := eng.CreateBooking(c.Request.Context(), engine.CreateBookingInput{
			CustomerID:      userId,
			PayerRef:        input.PaymentMethod,
			AmountCents:     input.AmountCents,
			EstimatedHours:  input.EstimatedHours,
			RequiredMinRank: input.RequiredMinRank,
			Specialization:  input.Specialization,
			PickupLat:       input.PickupLat,
			PickupLng:       input.PickupLng,
			PickupAddr:      input.PickupAddr,
			DropoffLat:      input.DropoffLat,
			DropoffLng:      input.DropoffLng,
			DropoffAddr:     input.DropoffAddr,
			ScheduledAt:     scheduledAt,
		})
		if err != nil {
			switch {
			case errors.Is(err, engine.ErrInvalidInput):
				c.JSON(400, gin.H{"error": err.Error()})
			case errors.Is(err, engine.ErrFundsNotCaptured):
				c.JSON(402, gin.H{"error": "Payment could not be captured"})
			default:
				c.JSON(500, gin.H{"error": "Failed to create booking"})
			}
			return
		}

		c.JSON(201, booking)
	}
}

// GetBooking retrieves a single booking for one of its parties
func GetBooking(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingId := c.Param("id")
		userId := c.GetUint("userId")

		booking, err := eng.GetBooking(c.Request.Context(), bookingId)
		if err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}

		if !isParticipant(booking, userId) {
			c.JSON(403, gin.H{"error": "Unauthorized"})
			return
		}

		c.JSON(200, booking)
	}
}

// GetAvailableBookings lists open bookings for pilots, optionally filtered
// by specialization and radius around the pilot's position. The filters are
// pass-through view concerns; the rank guard is enforced at acceptance.
func GetAvailableBookings(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userType := c.GetString("userType")
		if userType != string(models.UserTypePilot) {
			c.JSON(403, gin.H{"error": "Only pilots can browse available bookings"})
			return
		}

		page := paginationFromQuery(c)
		specialization := c.Query("specialization")

		lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
		lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
		radius, radErr := strconv.ParseFloat(c.Query("radius"), 64)
		byRadius := latErr == nil && lngErr == nil && radErr == nil && radius > 0

		var bookings []models.Booking
		var total int64
		var err error
		if byRadius {
			// The radius is computed here, not in SQL, so fetch the whole
			// open pool and page the filtered result; total counts only
			// bookings inside the radius.
			all, _, lerr := eng.ListAvailable(c.Request.Context(), specialization, ledger.Page{Limit: -1})
			err = lerr
			if err == nil {
				filtered := all[:0]
				for _, b := range all {
					if utils.IsWithinRadius(lat, lng, b.PickupLat, b.PickupLng, radius) {
						filtered = append(filtered, b)
					}
				}
				total = int64(len(filtered))
				if page.Offset < len(filtered) {
					filtered = filtered[page.Offset:]
					if page.Limit > 0 && page.Limit < len(filtered) {
						filtered = filtered[:page.Limit]
					}
					bookings = filtered
				}
			}
		} else {
			bookings, total, err = eng.ListAvailable(c.Request.Context(), specialization, page)
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch bookings"})
			return
		}

		c.JSON(200, gin.H{
			"bookings": bookings,
			"pagination": gin.H{
				"page":  page.Offset/pageLimit(page) + 1,
				"limit": pageLimit(page),
				"total": total,
			},
		})
	}
}

// GetCustomerBookings retrieves all bookings created by the customer
func GetCustomerBookings(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		page := paginationFromQuery(c)

		bookings, total, err := eng.ListByCustomer(c.Request.Context(), userId, page)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch bookings"})
			return
		}

		c.JSON(200, gin.H{"bookings": bookings, "total": total})
	}
}

// GetPilotBookings retrieves all bookings assigned to the pilot
func GetPilotBookings(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypePilot) {
			c.JSON(403, gin.H{"error": "Only pilots can view assigned bookings"})
			return
		}

		page := paginationFromQuery(c)
		bookings, total, err := eng.ListByPilot(c.Request.Context(), userId, page)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch bookings"})
			return
		}

		c.JSON(200, gin.H{"bookings": bookings, "total": total})
	}
}

func isParticipant(b *models.Booking, userId uint) bool {
	if b.CustomerID == userId {
		return true
	}
	return b.PilotID != nil && *b.PilotID == userId
}

func paginationFromQuery(c *gin.Context) ledger.Page {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 10
	}

	return ledger.Page{Limit: limit, Offset: (page - 1) * limit}
}

func pageLimit(p ledger.Page) int {
	if p.Limit <= 0 {
		return 10
	}
	return p.Limit
}
