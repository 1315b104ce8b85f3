// Package stats maintains pilot flight-hour, rank and rating aggregates.
// The lifecycle engine fires events into it and never waits on the result;
// a failed write here is logged and retried out of band, it does not touch
// booking state.
package stats

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/skyhire/skyhire-backend/internal/models"
	"github.com/skyhire/skyhire-backend/internal/services"
)

// Rank tier thresholds in accumulated flight hours.
var rankThresholds = []float64{50, 200, 500, 1000}

// RankForHours maps accumulated flight hours to a pilot rank tier.
func RankForHours(hours float64) int {
	rank := 0
	for _, t := range rankThresholds {
		if hours >= t {
			rank++
		}
	}
	return rank
}

type Recorder interface {
	RecordCompletion(ctx context.Context, pilotID uint, hours float64) error
	RecordRating(ctx context.Context, r models.Rating) error
}

type recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRecorder(db *gorm.DB, logger *zap.Logger) Recorder {
	return &recorder{db: db, logger: logger}
}

// RecordCompletion adds the flight's hours to the pilot and recomputes the
// rank tier. The hour increment is a single arithmetic update so concurrent
// completions never lose hours.
func (r *recorder) RecordCompletion(ctx context.Context, pilotID uint, hours float64) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", pilotID).
		Update("flight_hours", gorm.Expr("flight_hours + ?", hours))
	if res.Error != nil {
		return res.Error
	}

	var pilot models.User
	if err := r.db.WithContext(ctx).First(&pilot, pilotID).Error; err != nil {
		return err
	}

	rank := RankForHours(pilot.FlightHours)
	if rank != pilot.PilotRank {
		if err := r.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", pilotID).
			Update("pilot_rank", rank).Error; err != nil {
			return err
		}
		r.logger.Info("pilot rank updated",
			zap.Uint("pilotId", pilotID),
			zap.Int("rank", rank),
			zap.Float64("flightHours", pilot.FlightHours))
	}

	if err := services.SetPilotAvailability(ctx, pilotID, true); err != nil {
		r.logger.Warn("failed to mirror pilot availability", zap.Uint("pilotId", pilotID), zap.Error(err))
	}
	return nil
}

// RecordRating stores the rating row and folds it into the recipient's
// aggregates in one arithmetic update.
func (r *recorder) RecordRating(ctx context.Context, rating models.Rating) error {
	if err := r.db.WithContext(ctx).Create(&rating).Error; err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", rating.ToUserID).
		Updates(map[string]interface{}{
			"rating_count": gorm.Expr("rating_count + 1"),
			"rating_sum":   gorm.Expr("rating_sum + ?", rating.Score),
		}).Error; err != nil {
		return err
	}

	var u models.User
	if err := r.db.WithContext(ctx).First(&u, rating.ToUserID).Error; err == nil {
		if err := services.CacheRatingAggregate(ctx, u.ID, u.AverageRating(), u.RatingCount); err != nil {
			r.logger.Warn("failed to cache rating aggregate", zap.Uint("userId", u.ID), zap.Error(err))
		}
	}
	return nil
}
