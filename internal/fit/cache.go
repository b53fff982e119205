package fit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Cache holds the last aggregate per user for a short while.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(userID string) string {
	return "fit:" + userID
}

func (c *Cache) Get(ctx context.Context, userID string) ([]Day, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logrus.WithError(err).WithField("user_id", userID).Warn("Failed to read fitness cache")
		}
		return nil, false
	}
	var days []Day
	if err := json.Unmarshal(data, &days); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Discarding undecodable fitness cache entry")
		return nil, false
	}
	return days, true
}

func (c *Cache) Set(ctx context.Context, userID string, days []Day) {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(days)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(userID), data, c.ttl).Err(); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to write fitness cache")
	}
}
