package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

// InitRedis initializes the Redis client
func InitRedis() error {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://redis:6379" // Default Redis address for Docker
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %v", err)
	}

	RedisClient = redis.NewClient(opt)

	// Test the connection
	ctx := context.Background()
	_, err = RedisClient.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return nil
}

var ErrRedisUnavailable = errors.New("redis client not initialized")

// SetPilotAvailability stores pilot availability status
func SetPilotAvailability(ctx context.Context, pilotID uint, isAvailable bool) error {
	if RedisClient == nil {
		return ErrRedisUnavailable
	}
	key := fmt.Sprintf("pilot:availability:%d", pilotID)
	value := "true"
	if !isAvailable {
		value = "false"
	}
	return RedisClient.Set(ctx, key, value, time.Hour).Err()
}

// GetPilotAvailability retrieves pilot availability status
func GetPilotAvailability(ctx context.Context, pilotID uint) (bool, error) {
	if RedisClient == nil {
		return false, ErrRedisUnavailable
	}
	key := fmt.Sprintf("pilot:availability:%d", pilotID)
	result, err := RedisClient.Get(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result == "true", nil
}

// CacheRatingAggregate stores a user's current rating aggregate for hot reads
func CacheRatingAggregate(ctx context.Context, userID uint, average float64, count int64) error {
	if RedisClient == nil {
		return ErrRedisUnavailable
	}
	key := fmt.Sprintf("user:rating:%d", userID)
	data, err := json.Marshal(map[string]interface{}{
		"average": average,
		"count":   count,
		"updated": time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return RedisClient.Set(ctx, key, data, 24*time.Hour).Err()
}

// GetCachedRatingAggregate retrieves a user's cached rating aggregate
func GetCachedRatingAggregate(ctx context.Context, userID uint) (average float64, count int64, err error) {
	if RedisClient == nil {
		return 0, 0, ErrRedisUnavailable
	}
	key := fmt.Sprintf("user:rating:%d", userID)
	data, err := RedisClient.Get(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}

	var agg map[string]interface{}
	if err := json.Unmarshal([]byte(data), &agg); err != nil {
		return 0, 0, err
	}

	average, _ = agg["average"].(float64)
	if c, ok := agg["count"].(float64); ok {
		count = int64(c)
	}
	return average, count, nil
}

// PublishBookingUpdate publishes booking status updates to Redis pub/sub
func PublishBookingUpdate(ctx context.Context, bookingID string, status string, data map[string]interface{}) error {
	if RedisClient == nil {
		return ErrRedisUnavailable
	}
	updateData := map[string]interface{}{
		"bookingId": bookingID,
		"status":    status,
		"data":      data,
		"timestamp": time.Now().Unix(),
	}

	jsonData, err := json.Marshal(updateData)
	if err != nil {
		return err
	}

	return RedisClient.Publish(ctx, "booking:updates", jsonData).Err()
}
