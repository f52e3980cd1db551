// Package rediscache implements tenant.Cache on Redis so that all gateway
// replicas share membership outcomes and see invalidations immediately.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rhuss/simplecrm/pkg/tenant"
)

const (
	defaultURL = "redis://localhost:6379"
	keyPrefix  = "simplecrm:membership:"
)

// Cache is a Redis-backed membership cache.
type Cache struct {
	client *redis.Client
}

// New connects to Redis at url and verifies the connection.
func New(ctx context.Context, url string) (*Cache, error) {
	if url == "" {
		url = defaultURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Cache{client: client}, nil
}

// key places the tenant first so an operator can scan one tenant's entries.
func key(subject, tenantID string) string {
	return keyPrefix + tenantID + ":" + subject
}

// Get returns the cached entry. A missing key is a miss, not an error.
func (c *Cache) Get(ctx context.Context, subject, tenantID string) (tenant.Entry, bool, error) {
	raw, err := c.client.Get(ctx, key(subject, tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return tenant.Entry{}, false, nil
	}
	if err != nil {
		return tenant.Entry{}, false, fmt.Errorf("redis get: %w", err)
	}

	var e tenant.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return tenant.Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, true, nil
}

// Put stores an entry with the given TTL.
func (c *Cache) Put(ctx context.Context, subject, tenantID string, e tenant.Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, key(subject, tenantID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate deletes the entry.
func (c *Cache) Invalidate(ctx context.Context, subject, tenantID string) error {
	if err := c.client.Del(ctx, key(subject, tenantID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// HealthCheck pings Redis.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

var _ tenant.Cache = (*Cache)(nil)
