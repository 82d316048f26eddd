package domain

import (
	"context"
	"time"
)

// Cache holds short-lived scoring state shared by the API and the worker:
// served predictions, replayed on retries of the same transaction, and the
// per-user alert counters. Every method is scoped to a tenant.
type Cache interface {
	// GetPrediction returns the decision cached under replayKey for
	// artifactID, or nil, nil when there is none. replayKey identifies the
	// transaction and its content.
	GetPrediction(ctx context.Context, tenantID string, artifactID string, replayKey string) (*PredictionRecord, error)

	// SetPrediction caches a served prediction so that retries of the same
	// transaction return the original decision.
	SetPrediction(ctx context.Context, tenantID string, artifactID string, replayKey string, rec *PredictionRecord, ttl time.Duration) error

	// CountAlert records one alert for userID and returns the number of
	// alerts raised for that user in the current window, this one included.
	// The window starts with the first alert.
	CountAlert(ctx context.Context, tenantID string, userID string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int `json:"localMaxSize" yaml:"localMaxSize"`
	LocalTTL     int `json:"localTtl" yaml:"localTtl"` // seconds

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"-" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDb" yaml:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enableTwoPhase"` // If true, check local first, then Redis
}
