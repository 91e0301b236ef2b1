package repository

import (
	"context"
	"sync/atomic"
	"time"

	"medvik/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverIdempotencyStore prefers the primary (Redis) store and falls
// back to memory when it errors, retrying the primary after a minute.
type FailoverIdempotencyStore struct {
	primary   domain.IdempotencyStore
	fallback  domain.IdempotencyStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverIdempotencyStore(primary, fallback domain.IdempotencyStore, logger *zerolog.Logger) *FailoverIdempotencyStore {
	return &FailoverIdempotencyStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !r.isDown.Load() {
		first, err := r.primary.MarkProcessed(ctx, key, ttl)
		if err == nil {
			return first, nil
		}
		r.logger.Error().Err(err).Msg("Primary idempotency store failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		first, err := r.primary.MarkProcessed(ctx, key, ttl)
		if err == nil {
			r.isDown.Store(false)
			return first, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.MarkProcessed(ctx, key, ttl)
}

func (r *FailoverIdempotencyStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.logger.Error().Err(err).Msg("Primary idempotency store failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
