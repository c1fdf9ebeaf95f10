package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/redis"
)

const guardScope = "webhook-inflight"

// ReplayGuard collapses identical callbacks that arrive while the first copy
// is still being processed. Sequential replays are let through so the
// reconciler can record them as duplicates.
type ReplayGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewReplayGuard(store redis.IdempotencyStore, ttl time.Duration) (*ReplayGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &ReplayGuard{store: store, ttl: ttl}, nil
}

// Acquire marks the callback in flight. acquired is false when an identical
// payload from the same provider holds the mark.
func (g *ReplayGuard) Acquire(ctx context.Context, provider string, payload []byte) (key string, acquired bool, err error) {
	if provider == "" {
		return "", false, errors.New("provider is required")
	}
	key = g.store.IdempotencyKey(guardScope, Fingerprint(provider, payload))
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return "", false, fmt.Errorf("set replay guard: %w", err)
	}
	return key, set, nil
}

// Release clears the in-flight mark once processing ends.
func (g *ReplayGuard) Release(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return g.store.Del(ctx, key)
}

// Fingerprint identifies a callback by provider and body digest.
func Fingerprint(provider string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return provider + ":" + hex.EncodeToString(sum[:])
}
