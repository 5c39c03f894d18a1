package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return client, mr, cleanup
}

func TestIdempotencyNotSeenBeforeMark(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	mr.FlushAll()

	idem := NewIdempotency(client)
	id := uuid.New()

	if idem.SeenRecently(context.Background(), id) {
		t.Error("expected not seen before MarkProcessed")
	}
}

func TestIdempotencySeenAfterMark(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	mr.FlushAll()

	idem := NewIdempotency(client)
	id := uuid.New()

	if err := idem.MarkProcessed(context.Background(), id); err != nil {
		t.Fatalf("MarkProcessed error: %v", err)
	}
	if !idem.SeenRecently(context.Background(), id) {
		t.Error("expected seen after MarkProcessed")
	}
}

func TestIdempotencyDistinguishesIdentifiers(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	mr.FlushAll()

	idem := NewIdempotency(client)
	a, b := uuid.New(), uuid.New()

	idem.MarkProcessed(context.Background(), a)

	if idem.SeenRecently(context.Background(), b) {
		t.Error("expected identifier b to be unmarked")
	}
}

func TestIdempotencyFailsOpenOnRedisFailure(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	mr.Close()

	idem := NewIdempotency(client)
	if idem.SeenRecently(context.Background(), uuid.New()) {
		t.Error("expected fail-open (not seen) when redis is unreachable")
	}
}

func TestPacerAllowsUnderLimit(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	mr.FlushAll()

	pacer := NewPacer(client, PacingConfig{MaxCalls: 3, Window: time.Minute, KeyPrefix: "pacing:test"})

	for i := 0; i < 3; i++ {
		allowed, err := pacer.Allow(context.Background(), "gemini")
		if err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
		if !allowed {
			t.Fatalf("call %d: expected allowed", i)
		}
	}
}

func TestPacerBlocksOverLimit(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	mr.FlushAll()

	pacer := NewPacer(client, PacingConfig{MaxCalls: 2, Window: time.Minute, KeyPrefix: "pacing:test"})

	pacer.Allow(context.Background(), "gemini")
	pacer.Allow(context.Background(), "gemini")

	allowed, err := pacer.Allow(context.Background(), "gemini")
	if allowed {
		t.Error("expected third call to be blocked")
	}
	if err != ErrPacingLimitExceeded {
		t.Errorf("expected ErrPacingLimitExceeded, got %v", err)
	}
}

func TestPacerSeparatesKeys(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	mr.FlushAll()

	pacer := NewPacer(client, PacingConfig{MaxCalls: 1, Window: time.Minute, KeyPrefix: "pacing:test"})

	pacer.Allow(context.Background(), "gemini")

	allowed, err := pacer.Allow(context.Background(), "thermomix")
	if !allowed || err != nil {
		t.Errorf("expected a distinct key to have its own budget, got allowed=%v err=%v", allowed, err)
	}
}

func TestPacerFailsOpenOnRedisFailure(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	mr.Close()

	pacer := NewPacer(client, PacingConfig{MaxCalls: 1, Window: time.Minute})
	allowed, err := pacer.Allow(context.Background(), "gemini")
	if !allowed || err != nil {
		t.Errorf("expected fail-open on redis failure, got allowed=%v err=%v", allowed, err)
	}
}
