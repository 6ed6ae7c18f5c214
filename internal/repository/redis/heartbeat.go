package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/edukita/cbt-session-service/internal/core/port"
)

const defaultHeartbeatPrefix = "cbt:heartbeat"

// HeartbeatCache keeps the freshest heartbeat timestamp per session in Redis.
// The session row stays authoritative; this only spares the liveness check a
// database round trip.
type HeartbeatCache struct {
	client *red.Client
	prefix string
}

// NewHeartbeatCache constructs a Redis-backed heartbeat cache helper.
func NewHeartbeatCache(client *red.Client, keyPrefix string) *HeartbeatCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultHeartbeatPrefix
	}
	return &HeartbeatCache{client: client, prefix: prefix}
}

// SetLastHeartbeat stores the timestamp unless a fresher one is already
// cached, so reordered heartbeats keep the latest-wins property.
func (c *HeartbeatCache) SetLastHeartbeat(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error {
	key := c.key(sessionID)
	if key == "" {
		return fmt.Errorf("session id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	current, ok, err := c.GetLastHeartbeat(ctx, sessionID)
	if err != nil {
		return err
	}
	if ok && !at.After(current) {
		return nil
	}

	if err := c.client.Set(ctx, key, at.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("redis set heartbeat: %w", err)
	}

	return nil
}

// GetLastHeartbeat returns the cached timestamp when present.
func (c *HeartbeatCache) GetLastHeartbeat(ctx context.Context, sessionID string) (time.Time, bool, error) {
	key := c.key(sessionID)
	if key == "" {
		return time.Time{}, false, fmt.Errorf("session id is required")
	}

	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("redis get heartbeat: %w", err)
	}

	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cached heartbeat: %w", err)
	}

	return at, true, nil
}

// DeleteLastHeartbeat drops the cache entry, e.g. when the session closes.
func (c *HeartbeatCache) DeleteLastHeartbeat(ctx context.Context, sessionID string) error {
	key := c.key(sessionID)
	if key == "" {
		return fmt.Errorf("session id is required")
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete heartbeat: %w", err)
	}

	return nil
}

func (c *HeartbeatCache) key(sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.prefix, sessionID)
}

var _ port.HeartbeatCache = (*HeartbeatCache)(nil)
