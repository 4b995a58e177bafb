package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const activeSessionsKey = "active_sessions"

// Meta is the session metadata published to a Mirror.
type Meta struct {
	CreatedAt    time.Time
	LastActivity time.Time
	Stage        Stage
	Turns        int
}

// Mirror publishes session metadata outside the process, for dashboards and
// other replicas. The store never reads it back.
type Mirror interface {
	Store(ctx context.Context, id string, meta Meta) error
	Remove(ctx context.Context, id string) error
}

// NopMirror discards everything.
type NopMirror struct{}

func (NopMirror) Store(context.Context, string, Meta) error { return nil }
func (NopMirror) Remove(context.Context, string) error      { return nil }

// redisHashes is the subset of *redis.Client used by RedisMirror.
type redisHashes interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisMirror keeps a "session:<id>" hash per session plus the
// active_sessions set.
type RedisMirror struct {
	redis redisHashes
	ttl   time.Duration
}

// NewRedisMirror returns a mirror over rdb. Hashes expire after ttl; zero
// means they live until removed.
func NewRedisMirror(rdb redisHashes, ttl time.Duration) *RedisMirror {
	return &RedisMirror{redis: rdb, ttl: ttl}
}

func sessionKey(id string) string { return "session:" + id }

// Store implements Mirror.
func (m *RedisMirror) Store(ctx context.Context, id string, meta Meta) error {
	key := sessionKey(id)
	if err := m.redis.HSet(ctx, key, map[string]interface{}{
		"created_at":    meta.CreatedAt.Format(time.RFC3339),
		"last_activity": meta.LastActivity.Format(time.RFC3339),
		"status":        "active",
		"stage":         string(meta.Stage),
		"turns":         meta.Turns,
	}).Err(); err != nil {
		return err
	}
	if err := m.redis.SAdd(ctx, activeSessionsKey, id).Err(); err != nil {
		return err
	}
	if m.ttl > 0 {
		return m.redis.Expire(ctx, key, m.ttl).Err()
	}
	return nil
}

// Remove implements Mirror.
func (m *RedisMirror) Remove(ctx context.Context, id string) error {
	if err := m.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		return err
	}
	return m.redis.SRem(ctx, activeSessionsKey, id).Err()
}
