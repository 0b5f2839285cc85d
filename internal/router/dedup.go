package router

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Deduper remembers keys for a window. Seen records the key and reports
// whether it had already been recorded inside the window.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

type MemoryDeduper struct {
	mu        sync.Mutex
	window    time.Duration
	now       func() time.Time
	seen      map[string]time.Time
	lastPrune time.Time
}

func NewMemoryDeduper(window time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

func (d *MemoryDeduper) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastPrune) >= d.window {
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
		d.lastPrune = now
	}
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return true, nil
	}
	d.seen[key] = now
	return false, nil
}

func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// RedisDeduper shares the window between realtime instances with SETNX.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	window time.Duration
}

func NewRedisDeduper(client *redis.Client, window time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: "foodbridge:dedup:", window: window}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	created, err := d.client.SetNX(ctx, d.prefix+key, 1, d.window).Result()
	if err != nil {
		return false, err
	}
	return !created, nil
}
