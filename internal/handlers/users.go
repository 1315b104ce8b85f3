package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/skyhire/skyhire-backend/internal/models"
	"github.com/skyhire/skyhire-backend/internal/services"
)

// GetProfile retrieves the user's profile
func GetProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var user models.User
		if err := db.First(&user, userId).Error; err != nil {
			c.JSON(404, gin.H{"error": "User not found"})
			return
		}

		response := gin.H{
			"id":             user.ID,
			"email":          user.Email,
			"username":       user.Username,
			"phoneNumber":    user.PhoneNumber,
			"userType":       user.UserType,
			"specialization": user.Specialization,
		}

		if user.UserType == string(models.UserTypePilot) {
			response["pilotRank"] = user.PilotRank
			response["flightHours"] = user.FlightHours
			response["droneModel"] = user.DroneModel
			response["droneRegistration"] = user.DroneRegistration
			if available, err := services.GetPilotAvailability(context.Background(), user.ID); err == nil {
				response["available"] = available
			}
		}

		// Prefer the cached aggregate; fall back to the stored counters.
		if avg, count, err := services.GetCachedRatingAggregate(context.Background(), user.ID); err == nil {
			response["rating"] = avg
			response["ratingCount"] = count
		} else {
			response["rating"] = user.AverageRating()
			response["ratingCount"] = user.RatingCount
		}

		c.JSON(200, response)
	}
}

// UpdateProfile updates the user's profile information
func UpdateProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var input struct {
			Username       *string `json:"username"`
			PhoneNumber    *string `json:"phoneNumber"`
			Specialization *string `json:"specialization"`
			DroneModel     *string `json:"droneModel"`
			DroneReg       *string `json:"droneRegistration"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		var user models.User
		if err := db.First(&user, userId).Error; err != nil {
			c.JSON(404, gin.H{"error": "User not found"})
			return
		}

		// Update fields individually to handle empty strings properly
		if input.Username != nil {
			user.Username = *input.Username
		}
		if input.PhoneNumber != nil {
			user.PhoneNumber = *input.PhoneNumber
		}
		if input.Specialization != nil {
			user.Specialization = *input.Specialization
		}
		if input.DroneModel != nil {
			user.DroneModel = *input.DroneModel
		}
		if input.DroneReg != nil {
			user.DroneRegistration = *input.DroneReg
		}

		// Use Save() instead of Updates() to persist all fields including empty strings
		if err := db.Save(&user).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to update profile"})
			return
		}

		c.JSON(200, gin.H{
			"id":             user.ID,
			"email":          user.Email,
			"username":       user.Username,
			"phoneNumber":    user.PhoneNumber,
			"userType":       user.UserType,
			"specialization": user.Specialization,
		})
	}
}
