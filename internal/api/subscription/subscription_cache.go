package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/rooftops-ai/entitlements/internal/types"
)

var _ Cache = (*RedisSubscriptionCache)(nil)

// Cache is a short-TTL read-through cache in front of the subscription store.
// Subscriptions change only via billing webhooks, so the reconciler invalidates
// entries on every mutation and staleness is bounded by the TTL either way.
type Cache interface {
	Get(ctx context.Context, userID uuid.UUID) (*types.Subscription, bool)
	Set(ctx context.Context, userID uuid.UUID, sub *types.Subscription)
	Invalidate(ctx context.Context, userID uuid.UUID)
}

type RedisSubscriptionCache struct {
	logger *slog.Logger
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSubscriptionCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisSubscriptionCache {
	return &RedisSubscriptionCache{
		logger: logger,
		client: client,
		ttl:    ttl,
	}
}

func cacheKey(userID uuid.UUID) string {
	return "subscription:" + userID.String()
}

// Get returns the cached subscription and whether the lookup hit. Any cache
// failure is treated as a miss; the store is the source of truth.
func (c *RedisSubscriptionCache) Get(ctx context.Context, userID uuid.UUID) (*types.Subscription, bool) {
	payload, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "Subscription cache read failed", slog.Any("error", err))
		}
		return nil, false
	}

	var s types.Subscription
	if err := json.Unmarshal(payload, &s); err != nil {
		c.logger.WarnContext(ctx, "Subscription cache entry corrupt, evicting", slog.Any("error", err))
		c.Invalidate(ctx, userID)
		return nil, false
	}
	return &s, true
}

func (c *RedisSubscriptionCache) Set(ctx context.Context, userID uuid.UUID, sub *types.Subscription) {
	payload, err := json.Marshal(sub)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to marshal subscription for cache", slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, cacheKey(userID), payload, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "Subscription cache write failed", slog.Any("error", err))
	}
}

func (c *RedisSubscriptionCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		c.logger.WarnContext(ctx, "Subscription cache invalidation failed", slog.Any("error", err))
	}
}

// NoopCache satisfies Cache when Redis is not configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, uuid.UUID) (*types.Subscription, bool) { return nil, false }
func (NoopCache) Set(context.Context, uuid.UUID, *types.Subscription)        {}
func (NoopCache) Invalidate(context.Context, uuid.UUID)                      {}
