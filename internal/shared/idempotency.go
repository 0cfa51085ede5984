package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPending = "pending"

// ErrIdempotencyInFlight indicates the same key is still being processed.
var ErrIdempotencyInFlight = errors.New("idempotent request still in progress")

// DefaultPendingTTL bounds how long an unfinished claim blocks replays.
const DefaultPendingTTL = time.Minute

// IdempotencyStore keeps processed request keys in Redis so every service
// instance shares them and expiry is enforced by the key TTL. A claim lives
// for pendingTTL until Complete stores the result for the full ttl.
type IdempotencyStore struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl, pendingTTL: min(DefaultPendingTTL, ttl)}
}

// WithPendingTTL returns a copy of the store whose claims expire after d.
func (s *IdempotencyStore) WithPendingTTL(d time.Duration) *IdempotencyStore {
	out := *s
	if d > 0 {
		out.pendingTTL = min(d, s.ttl)
	}
	return &out
}

func (s *IdempotencyStore) key(module, key string) string {
	return fmt.Sprintf("idem:%s:%s", module, key)
}

// Begin claims key for module. When the key was already completed it returns
// the stored result and claimed=false. When another request holds the key it
// returns ErrIdempotencyInFlight.
func (s *IdempotencyStore) Begin(ctx context.Context, module, key string) (result string, claimed bool, err error) {
	if s == nil || s.client == nil {
		return "", true, nil
	}
	if key == "" {
		return "", false, errors.New("idempotency key required")
	}
	if module == "" {
		return "", false, errors.New("idempotency module required")
	}
	ok, err := s.client.SetNX(ctx, s.key(module, key), idempotencyPending, s.pendingTTL).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	stored, err := s.client.Get(ctx, s.key(module, key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as a fresh claim attempt.
		return s.Begin(ctx, module, key)
	}
	if err != nil {
		return "", false, err
	}
	if stored == idempotencyPending {
		return "", false, ErrIdempotencyInFlight
	}
	return stored, false, nil
}

// Complete stores the result of a claimed key.
func (s *IdempotencyStore) Complete(ctx context.Context, module, key, result string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Set(ctx, s.key(module, key), result, s.ttl).Err()
}

// Release removes a claimed key, typically after failed processing.
func (s *IdempotencyStore) Release(ctx context.Context, module, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	return s.client.Del(ctx, s.key(module, key)).Err()
}
