package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Rrens/dyncontent/internal/domain"
)

const (
	definitionCachePrefix = "definition:"
	defaultDefinitionTTL  = 10 * time.Minute
)

// DefinitionCache is the shared definition tier used by the registry.
// Entries are msgpack encoded and expire after the TTL.
type DefinitionCache struct {
	client *Client
	ttl    time.Duration
}

// NewDefinitionCache creates a new definition cache
func NewDefinitionCache(client *Client, ttl time.Duration) *DefinitionCache {
	if ttl <= 0 {
		ttl = defaultDefinitionTTL
	}
	return &DefinitionCache{client: client, ttl: ttl}
}

func definitionKey(tenantID, block string) string {
	return fmt.Sprintf("%s%s:%s", definitionCachePrefix, tenantID, block)
}

// Get returns the cached definition, or (nil, nil) on a miss
func (c *DefinitionCache) Get(ctx context.Context, tenantID, block string) (*domain.ContentDefinition, error) {
	data, err := c.client.rdb.Get(ctx, definitionKey(tenantID, block)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached definition: %w", err)
	}
	return decodeDefinition(data)
}

// Set caches def under its tenant and block
func (c *DefinitionCache) Set(ctx context.Context, def *domain.ContentDefinition) error {
	data, err := encodeDefinition(def)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(ctx, definitionKey(def.TenantID, def.Block), data, c.ttl).Err()
}

// Invalidate removes the cached definition of a block
func (c *DefinitionCache) Invalidate(ctx context.Context, tenantID, block string) error {
	return c.client.rdb.Del(ctx, definitionKey(tenantID, block)).Err()
}

func encodeDefinition(def *domain.ContentDefinition) ([]byte, error) {
	data, err := msgpack.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to encode definition: %w", err)
	}
	return data, nil
}

func decodeDefinition(data []byte) (*domain.ContentDefinition, error) {
	var def domain.ContentDefinition
	if err := msgpack.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	return &def, nil
}
