// Package rulecache is a redis read-through cache in front of the availability rule store.
package rulecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agenda/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RuleStore is the source of truth for rules.
type RuleStore interface {
	GetRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error)
}

// Cache serves rules from redis and falls back to the store on miss or redis failure.
type Cache struct {
	store  RuleStore
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New wraps store. A nil client or non-positive ttl disables caching.
func New(store RuleStore, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{
		store:  store,
		redis:  client,
		ttl:    ttl,
		logger: logger.With().Str("component", "rulecache").Logger(),
	}
}

func key(providerID string) string {
	return fmt.Sprintf("agenda:rules:%s", providerID)
}

// GetRules implements slots.RuleSource.
func (c *Cache) GetRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error) {
	var rules []model.AvailabilityRule
	if c.readCache(ctx, key(providerID), &rules) {
		return rules, nil
	}

	rules, err := c.store.GetRules(ctx, providerID)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, key(providerID), rules)
	return rules, nil
}

// Invalidate drops cached rules for the given providers.
func (c *Cache) Invalidate(ctx context.Context, providerIDs ...string) {
	if !c.enabled() || len(providerIDs) == 0 {
		return
	}
	keys := make([]string, len(providerIDs))
	for i, id := range providerIDs {
		keys[i] = key(id)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Strs("providers", providerIDs).Msg("rule cache invalidation failed")
	}
}

func (c *Cache) enabled() bool {
	return c.redis != nil && c.ttl > 0
}

func (c *Cache) readCache(ctx context.Context, key string, out any) bool {
	if !c.enabled() {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("rule cache read failed")
		}
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Cache) writeCache(ctx context.Context, key string, val any) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("rule cache write failed")
	}
}
