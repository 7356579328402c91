package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed           bool  // Whether the request is allowed
	CurrentCount      int64 // Current count in the window
	Limit             int64 // The limit that was checked
	RetryAfterSeconds int64 // Seconds until the limit resets (0 if allowed)
}

// RateLimiter provides fixed-window rate limiting backed by Redis
type RateLimiter struct {
	redis  *redis.Client
	logger Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redisClient *redis.Client, logger Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		logger: logger,
	}
}

// CheckGlobalLimit checks the service-wide submission rate limit
func (r *RateLimiter) CheckGlobalLimit(ctx context.Context, limit int64) (*RateLimitResult, error) {
	key := "rate_limit:global"
	return r.checkLimit(ctx, key, limit, 60) // 1 minute window
}

// CheckOwnerLimit checks the submission rate limit for one owner
func (r *RateLimiter) CheckOwnerLimit(ctx context.Context, ownerID string, limit int64, windowSec int) (*RateLimitResult, error) {
	key := fmt.Sprintf("rate_limit:owner:%s", ownerID)
	return r.checkLimit(ctx, key, limit, windowSec)
}

// CheckFlowLimit checks the rate limit for one flow of one owner
func (r *RateLimiter) CheckFlowLimit(ctx context.Context, ownerID, flowID string, limit int64, windowSec int) (*RateLimitResult, error) {
	key := fmt.Sprintf("rate_limit:flow:%s:%s", ownerID, flowID)
	return r.checkLimit(ctx, key, limit, windowSec)
}

// checkLimit increments the window counter and compares it to the limit.
// INCR and EXPIRE run in one pipelined round trip; the expiry is only set
// when the counter is fresh so the window does not slide.
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int64, windowSec int) (*RateLimitResult, error) {
	pipe := r.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	if count == 1 || ttl.Val() < 0 {
		if err := r.redis.Expire(ctx, key, time.Duration(windowSec)*time.Second).Err(); err != nil {
			r.logger.Warn("failed to set rate limit window", "key", key, "error", err)
		}
	}

	retryAfter := int64(0)
	allowed := count <= limit
	if !allowed {
		retryAfter = int64(ttl.Val().Seconds())
		if retryAfter <= 0 {
			retryAfter = int64(windowSec)
		}
		r.logger.Warn("rate limit exceeded",
			"key", key,
			"current", count,
			"limit", limit,
			"retry_after", retryAfter)
	} else {
		r.logger.Debug("rate limit check passed",
			"key", key,
			"current", count,
			"limit", limit)
	}

	return &RateLimitResult{
		Allowed:           allowed,
		CurrentCount:      count,
		Limit:             limit,
		RetryAfterSeconds: retryAfter,
	}, nil
}

// GetCurrentCount returns current count without incrementing (for monitoring)
func (r *RateLimiter) GetCurrentCount(ctx context.Context, key string) (int64, error) {
	count, err := r.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil // Key doesn't exist = no requests yet
	}
	return count, err
}

// ResetLimit clears a rate limit counter (for testing/admin)
func (r *RateLimiter) ResetLimit(ctx context.Context, key string) error {
	return r.redis.Del(ctx, key).Err()
}
