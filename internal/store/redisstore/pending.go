package redisstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/copytrade/router/internal/domain"
)

//go:embed scripts/pending_retry.lua
var pendingRetryLua string

const pendingExitTTL = 48 * time.Hour

// QueuePendingExit records an exit that could not complete immediately, so
// the worker's retry loop can pick it up on the next tick.
func (c *Client) QueuePendingExit(ctx context.Context, key domain.MappingKey, m domain.Mapping) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redisstore: marshal pending exit mapping: %w", err)
	}

	hkey := pendingKey(key.SourceAccountID, key.SourcePositionID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, hkey, map[string]any{
		"mapping":    string(raw),
		"queuedAt":   time.Now().UTC().Format(time.RFC3339Nano),
		"retryCount": 0,
	})
	pipe.Expire(ctx, hkey, pendingExitTTL)
	pipe.SAdd(ctx, pendingIndexKey(key.SourceAccountID), key.SourcePositionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: queue pending exit: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// ListPendingExits returns every pending exit for a source account,
// atomically incrementing each entry's retry counter as it does so.
func (c *Client) ListPendingExits(ctx context.Context, sourceAccountID string) ([]domain.PendingExit, error) {
	raw, err := c.retryScript.Run(ctx, c.rdb,
		[]string{pendingIndexKey(sourceAccountID)},
		pendingKeyPrefix(sourceAccountID),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list pending exits: %v", domain.ErrStoreUnavailable, err)
	}

	fields, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("redisstore: unexpected pending_retry result shape")
	}

	var exits []domain.PendingExit
	for i := 0; i+3 < len(fields); i += 4 {
		mappingRaw, _ := fields[i+1].(string)
		queuedAtRaw, _ := fields[i+2].(string)
		retryRaw := fields[i+3]

		var mapping domain.Mapping
		if err := json.Unmarshal([]byte(mappingRaw), &mapping); err != nil {
			continue
		}
		queuedAt, _ := time.Parse(time.RFC3339Nano, queuedAtRaw)

		retryCount := 0
		switch v := retryRaw.(type) {
		case int64:
			retryCount = int(v)
		case string:
			retryCount, _ = strconv.Atoi(v)
		}

		exits = append(exits, domain.PendingExit{
			Mapping:    mapping,
			QueuedAt:   queuedAt,
			RetryCount: retryCount,
		})
	}
	return exits, nil
}

// RemovePendingExit removes a pending exit after a successful retry.
func (c *Client) RemovePendingExit(ctx context.Context, key domain.MappingKey) error {
	hkey := pendingKey(key.SourceAccountID, key.SourcePositionID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, hkey)
	pipe.SRem(ctx, pendingIndexKey(key.SourceAccountID), key.SourcePositionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: remove pending exit: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
