package storage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence tracks which devices produced a heartbeat inside the online window.
type Presence interface {
	MarkSeen(ctx context.Context, deviceID string, at time.Time) error
	IsOnline(ctx context.Context, deviceID string) (bool, error)
}

// RedisPresence keeps one key per device that expires after the online window.
type RedisPresence struct {
	Redis  *redis.Client
	Window time.Duration
}

func NewRedisPresence(rdb *redis.Client, window time.Duration) *RedisPresence {
	return &RedisPresence{Redis: rdb, Window: window}
}

func presenceKey(deviceID string) string {
	return "presence:" + deviceID
}

// MarkSeen refreshes the device key with the heartbeat time.
func (p *RedisPresence) MarkSeen(ctx context.Context, deviceID string, at time.Time) error {
	return p.Redis.Set(ctx, presenceKey(deviceID), strconv.FormatInt(at.Unix(), 10), p.Window).Err()
}

// IsOnline reports whether the device key still exists.
func (p *RedisPresence) IsOnline(ctx context.Context, deviceID string) (bool, error) {
	_, err := p.Redis.Get(ctx, presenceKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MemoryPresence is the Presence used when no Redis is configured.
type MemoryPresence struct {
	Window time.Duration
	Now    func() time.Time

	mu   sync.RWMutex
	seen map[string]time.Time
}

func NewMemoryPresence(window time.Duration) *MemoryPresence {
	return &MemoryPresence{Window: window, Now: time.Now, seen: make(map[string]time.Time)}
}

func (p *MemoryPresence) MarkSeen(ctx context.Context, deviceID string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[deviceID] = at
	return nil
}

func (p *MemoryPresence) IsOnline(ctx context.Context, deviceID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	at, ok := p.seen[deviceID]
	if !ok {
		return false, nil
	}
	return p.Now().Sub(at) < p.Window, nil
}
