package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedGate wraps another Gate with a short-TTL Redis decision cache.
// The orchestrator checks the same (owner, scope) pair once per stage; within
// one run the external service only needs to be asked once. Revocations
// propagate after at most the TTL, or immediately via Invalidate.
type CachedGate struct {
	inner  Gate
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedGate creates a caching decorator around inner.
// redisURL uses the go-redis URL format (redis://host:port/db).
func NewCachedGate(inner Gate, redisURL string, ttl time.Duration) (*CachedGate, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &CachedGate{
		inner:  inner,
		redis:  client,
		ttl:    ttl,
		logger: slog.Default().With("component", "consent-cache"),
	}, nil
}

func cacheKey(ownerID, scope string) string {
	return fmt.Sprintf("consent:%s:%s", ownerID, scope)
}

// Check serves from cache when possible, falling through to the inner gate.
// Cache failures degrade to a direct check, never to a denial.
func (g *CachedGate) Check(ctx context.Context, ownerID, scope string) (Decision, error) {
	key := cacheKey(ownerID, scope)

	if raw, err := g.redis.Get(ctx, key).Result(); err == nil {
		var decision Decision
		if jsonErr := json.Unmarshal([]byte(raw), &decision); jsonErr == nil {
			return decision, nil
		}
	} else if err != redis.Nil {
		g.logger.Warn("consent cache read failed, checking directly", "error", err)
	}

	decision, err := g.inner.Check(ctx, ownerID, scope)
	if err != nil {
		return Decision{}, err
	}

	if raw, jsonErr := json.Marshal(decision); jsonErr == nil {
		if setErr := g.redis.Set(ctx, key, raw, g.ttl).Err(); setErr != nil {
			g.logger.Warn("consent cache write failed", "error", setErr)
		}
	}

	return decision, nil
}

// Invalidate drops all cached decisions for an owner, e.g. after a
// consent revocation webhook.
func (g *CachedGate) Invalidate(ctx context.Context, ownerID string) error {
	pattern := fmt.Sprintf("consent:%s:*", ownerID)
	iter := g.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := g.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to invalidate consent cache: %w", err)
		}
	}
	return iter.Err()
}

// Close releases the Redis connection
func (g *CachedGate) Close() error {
	return g.redis.Close()
}
