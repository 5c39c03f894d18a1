// Package cache holds the two small Redis-backed guards that sit in
// front of slower systems: an idempotency cache for the bus consumer
// (§4.9) and a pacing guard for model-provider calls (§4.7).
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IdempotencyTTL bounds how long a processed-identifier marker survives;
// long enough to absorb a Kafka redelivery burst, short enough not to
// grow unbounded.
const IdempotencyTTL = 10 * time.Minute

// Idempotency collapses the common "already loaded this identifier"
// case for the bus consumer before it round-trips to Postgres. Postgres'
// unique index on identifier remains the correctness backstop; this is
// purely an optimization, so a Redis error fails open (the consumer just
// falls through to the store and lets the unique index decide).
type Idempotency struct {
	redis *redis.Client
}

// NewIdempotency wraps an already-configured *redis.Client.
func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{redis: client}
}

func idempotencyKey(identifier uuid.UUID) string {
	return fmt.Sprintf("idempotency:recipe:%s", identifier)
}

// SeenRecently reports whether identifier was marked processed within
// the TTL. A Redis error is treated as "not seen" so the consumer falls
// through to the authoritative store lookup.
func (c *Idempotency) SeenRecently(ctx context.Context, identifier uuid.UUID) bool {
	n, err := c.redis.Exists(ctx, idempotencyKey(identifier)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// MarkProcessed records identifier as successfully loaded. Errors are
// swallowed by the caller's usual pattern of "best effort, Postgres is
// the backstop" — callers may still check the returned error if they
// want to log it.
func (c *Idempotency) MarkProcessed(ctx context.Context, identifier uuid.UUID) error {
	return c.redis.Set(ctx, idempotencyKey(identifier), "1", IdempotencyTTL).Err()
}

// ErrPacingLimitExceeded is returned by Pacer.Allow when the caller
// should back off before issuing another model-provider call.
var ErrPacingLimitExceeded = errors.New("model provider pacing limit exceeded")

// PacingConfig bounds calls to a single named model provider over a
// fixed window, the same fixed-window counter shape as the
// teacher's HTTP rate limiter, generalized from per-IP/per-user HTTP
// requests to per-provider outbound calls.
type PacingConfig struct {
	MaxCalls  int
	Window    time.Duration
	KeyPrefix string
}

// Pacer throttles outbound calls to a model provider so a scraping burst
// doesn't trip the provider's own rate limits (§4.7).
type Pacer struct {
	redis  *redis.Client
	config PacingConfig
}

// NewPacer builds a Pacer for the given provider under config.
func NewPacer(client *redis.Client, config PacingConfig) *Pacer {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "pacing:model"
	}
	return &Pacer{redis: client, config: config}
}

// Allow increments the window counter for key and reports whether the
// call may proceed. A Redis error fails open, same as the teacher's
// rate limiter: a broken Redis should not block the pipeline.
func (p *Pacer) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", p.config.KeyPrefix, key)

	count, err := p.redis.Get(ctx, redisKey).Int()
	if err != nil && err != redis.Nil {
		return true, nil
	}

	if count >= p.config.MaxCalls {
		return false, ErrPacingLimitExceeded
	}

	pipe := p.redis.Pipeline()
	pipe.Incr(ctx, redisKey)
	if count == 0 {
		pipe.Expire(ctx, redisKey, p.config.Window)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return true, nil
	}

	return true, nil
}

// Wait blocks until Allow would permit the call or ctx is cancelled,
// polling at a fraction of the window. Used by activities that would
// rather pace themselves than fail and rely on the Temporal retry
// policy's backoff.
func (p *Pacer) Wait(ctx context.Context, key string) error {
	pollInterval := p.config.Window / 10
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	for {
		allowed, _ := p.Allow(ctx, key)
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
