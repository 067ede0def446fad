package facilities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

const cacheKeyPrefix = "facilities:nearby:"

// CachedDirectory serves Nearby results from Redis, falling back to the
// wrapped directory on a miss or when Redis is unreachable.
type CachedDirectory struct {
	next   Directory
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedDirectory wraps next with a Redis cache. A nil client returns next unchanged.
func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration, logger *logging.Logger) Directory {
	if client == nil {
		return next
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedDirectory{next: next, client: client, ttl: ttl, logger: logger}
}

func cacheKey(location string, limit int) string {
	return fmt.Sprintf("%s%d:%s", cacheKeyPrefix, limit, normalizeLocation(location))
}

// Nearby implements Directory.
func (c *CachedDirectory) Nearby(ctx context.Context, location string, limit int) ([]Facility, error) {
	key := cacheKey(location, limit)
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []Facility
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
			return cached, nil
		}
		c.logger.Warn("facility cache entry corrupt", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("facility cache read failed", "error", err)
	}

	result, err := c.next.Nearby(ctx, location, limit)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []Facility{}
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return result, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("facility cache write failed", "error", err)
	}
	return result, nil
}
