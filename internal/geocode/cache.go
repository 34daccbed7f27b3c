package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roundkeeper/internal/models"
	"github.com/roundkeeper/pkg/logger"
)

// RedisCache memoizes lookups in Redis. Cache failures are logged and fall
// through to the wrapped Lookuper.
type RedisCache struct {
	client *redis.Client
	next   Lookuper
	ttl    time.Duration // 0 = no expiration
	logger *logger.Logger
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisCache wraps next with a Redis cache
func NewRedisCache(client *redis.Client, next Lookuper, ttl time.Duration, log *logger.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		next:   next,
		ttl:    ttl,
		logger: log,
	}
}

// Lookup returns the cached place for p, resolving and storing it on a miss
func (c *RedisCache) Lookup(ctx context.Context, p models.LatLng) (Place, error) {
	key := placeKey(p)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var place Place
		if err := json.Unmarshal(data, &place); err == nil {
			return place, nil
		}
		c.logger.Warn("Discarding corrupt geocode cache entry", logger.F("key", key))
	case err != redis.Nil:
		c.logger.Warn("Geocode cache read failed", logger.F("key", key), logger.Err(err))
	}

	place, err := c.next.Lookup(ctx, p)
	if err != nil {
		return Place{}, err
	}

	if data, err := json.Marshal(place); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("Geocode cache write failed", logger.F("key", key), logger.Err(err))
		}
	}
	return place, nil
}

// placeKey generates a Redis key for a coordinate
func placeKey(p models.LatLng) string {
	return fmt.Sprintf("geocode:%.6f,%.6f", p.Lat, p.Lng)
}
