package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/copytrade/router/internal/domain"
)

const markerTTL = 24 * time.Hour

// MarkClosed records the closed-destination-position idempotency marker.
func (c *Client) MarkClosed(ctx context.Context, accountID, positionID string) error {
	if err := c.rdb.Set(ctx, closedMarkerKey(accountID, positionID), "1", markerTTL).Err(); err != nil {
		return fmt.Errorf("%w: mark closed: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// WasRecentlyClosed reports whether the closed marker is still set.
func (c *Client) WasRecentlyClosed(ctx context.Context, accountID, positionID string) (bool, error) {
	return c.exists(ctx, closedMarkerKey(accountID, positionID))
}

// MarkOrphanNotified records the orphan-notification idempotency marker.
func (c *Client) MarkOrphanNotified(ctx context.Context, accountID, positionID string) error {
	if err := c.rdb.Set(ctx, orphanMarkerKey(accountID, positionID), "1", markerTTL).Err(); err != nil {
		return fmt.Errorf("%w: mark orphan notified: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// WasOrphanNotified reports whether the orphan marker is still set,
// preventing duplicate orphan alerts.
func (c *Client) WasOrphanNotified(ctx context.Context, accountID, positionID string) (bool, error) {
	return c.exists(ctx, orphanMarkerKey(accountID, positionID))
}

func (c *Client) exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return n > 0, nil
}
