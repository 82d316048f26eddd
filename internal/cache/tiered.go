package cache

import (
	"context"
	"fmt"
	"time"
)

// tiered reads through a local LRU into a shared backend. Counters always go
// to the shared backend so that every node sees the same alert counts.
type tiered struct {
	local  *lru
	remote backend
	l1TTL  time.Duration
}

func newTiered(local *lru, remote backend, localTTLSeconds int) *tiered {
	l1TTL := time.Duration(localTTLSeconds) * time.Second
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &tiered{local: local, remote: remote, l1TTL: l1TTL}
}

func (t *tiered) get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := t.local.get(ctx, key); val != nil {
		return val, nil
	}

	val, err := t.remote.get(ctx, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = t.local.set(ctx, key, val, t.l1TTL)
	return val, nil
}

// set writes both tiers. The local copy never outlives the remote one.
func (t *tiered) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = t.local.set(ctx, key, value, min(t.l1TTL, ttl))
	return t.remote.set(ctx, key, value, ttl)
}

func (t *tiered) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return t.remote.incr(ctx, key, window)
}

func (t *tiered) ping(ctx context.Context) error {
	if err := t.remote.ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

func (t *tiered) close() error {
	_ = t.local.close()
	return t.remote.close()
}
