package port

import (
	"context"
	"time"
)

// HeartbeatCache tracks the freshest heartbeat per session for cheap liveness
// reads. The authoritative copy lives in the session row; the cache only
// spares the hot path a database round trip.
type HeartbeatCache interface {
	SetLastHeartbeat(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error
	GetLastHeartbeat(ctx context.Context, sessionID string) (time.Time, bool, error)
	DeleteLastHeartbeat(ctx context.Context, sessionID string) error
}
