package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/copytrade/router/internal/domain"
)

const mappingTTL = 7 * 24 * time.Hour

// PutMapping writes a mapping and refreshes its TTL to 7 days.
func (c *Client) PutMapping(ctx context.Context, m domain.Mapping) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redisstore: marshal mapping: %w", err)
	}
	key := mappingKey(m.Key.SourceAccountID, m.Key.SourcePositionID)
	if err := c.rdb.Set(ctx, key, raw, mappingTTL).Err(); err != nil {
		return fmt.Errorf("redisstore: put mapping %s: %w", key, err)
	}
	return nil
}

// GetMapping returns domain.ErrMappingAbsent if no mapping exists for key.
func (c *Client) GetMapping(ctx context.Context, key domain.MappingKey) (domain.Mapping, error) {
	var m domain.Mapping
	raw, err := c.rdb.Get(ctx, mappingKey(key.SourceAccountID, key.SourcePositionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return m, domain.ErrMappingAbsent
	}
	if err != nil {
		return m, fmt.Errorf("%w: get mapping: %v", domain.ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("redisstore: decode mapping: %w", err)
	}
	return m, nil
}

// DeleteMapping removes a mapping unconditionally.
func (c *Client) DeleteMapping(ctx context.Context, key domain.MappingKey) error {
	if err := c.rdb.Del(ctx, mappingKey(key.SourceAccountID, key.SourcePositionID)).Err(); err != nil {
		return fmt.Errorf("%w: delete mapping: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// ListMappings is a best-effort SCAN; it may miss mappings created after the
// scan starts.
func (c *Client) ListMappings(ctx context.Context, sourceAccountID string) ([]domain.Mapping, error) {
	var mappings []domain.Mapping
	iter := c.rdb.Scan(ctx, 0, mappingScanPattern(sourceAccountID), 200).Iterator()
	for iter.Next(ctx) {
		raw, err := c.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list mappings: %v", domain.ErrStoreUnavailable, err)
		}
		var m domain.Mapping
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		mappings = append(mappings, m)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: list mappings scan: %v", domain.ErrStoreUnavailable, err)
	}
	return mappings, nil
}
