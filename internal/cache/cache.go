// Package cache provides the prediction cache used for idempotent scoring
// and the alert counters used when publishing decisions.
//
// A Cache sits on one of three backends: an in-process LRU (Community), Redis
// (Pro), or both tiered with the LRU in front.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/telemetry"
)

// ErrTenantRequired is returned by every cache operation called without a tenant.
var ErrTenantRequired = errors.New("tenantID is required")

// backend stores raw values and windowed counters under fully qualified keys.
type backend interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	incr(ctx context.Context, key string, window time.Duration) (int64, error)
	ping(ctx context.Context) error
	close() error
}

// Cache implements domain.Cache over a backend.
type Cache struct {
	store backend
}

// New creates the cache described by cfg.
func New(cfg domain.CacheConfig) (*Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemory(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTiered(cfg)
		}
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// NewMemory returns a cache backed by an in-process LRU of at most maxSize
// entries. Counters count towards the limit.
func NewMemory(maxSize int) *Cache {
	return &Cache{store: newLRU(maxSize)}
}

// NewRedis returns a cache backed by Redis.
func NewRedis(addr, password string, db int) (*Cache, error) {
	r, err := dialRedis(addr, password, db)
	if err != nil {
		return nil, err
	}
	return &Cache{store: r}, nil
}

// NewTiered returns a cache that reads through a local LRU into Redis.
func NewTiered(cfg domain.CacheConfig) (*Cache, error) {
	r, err := dialRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return &Cache{store: newTiered(newLRU(cfg.LocalMaxSize), r, cfg.LocalTTL)}, nil
}

// key joins the tenant, the kind of value and its identifying parts.
func key(tenantID, kind string, parts ...string) string {
	return tenantID + ":" + kind + ":" + strings.Join(parts, ":")
}

// GetPrediction returns the decision cached for (artifactID, txID). The
// artifact is part of the key, so a model swap never replays a stale score.
func (c *Cache) GetPrediction(ctx context.Context, tenantID string, artifactID string, txID string) (*domain.PredictionRecord, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	data, err := c.store.get(ctx, key(tenantID, "pred", artifactID, txID))
	if err != nil {
		telemetry.PredictionCacheTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if data == nil {
		telemetry.PredictionCacheTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}

	var rec domain.PredictionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		telemetry.PredictionCacheTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode cached prediction: %w", err)
	}
	telemetry.PredictionCacheTotal.WithLabelValues("hit").Inc()
	return &rec, nil
}

// SetPrediction caches rec for ttl.
func (c *Cache) SetPrediction(ctx context.Context, tenantID string, artifactID string, txID string, rec *domain.PredictionRecord, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.store.set(ctx, key(tenantID, "pred", artifactID, txID), data, ttl)
}

// CountAlert increments the user's alert counter for the current window.
func (c *Cache) CountAlert(ctx context.Context, tenantID string, userID string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, ErrTenantRequired
	}
	return c.store.incr(ctx, key(tenantID, "alerts", userID), window)
}

// Ping checks backend health.
func (c *Cache) Ping(ctx context.Context) error {
	return c.store.ping(ctx)
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.store.close()
}
