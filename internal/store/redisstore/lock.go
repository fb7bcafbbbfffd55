package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/copytrade/router/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's
// unique token, so one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

func lockKey(key string) string { return "lock:" + key }

// Acquire obtains a distributed lock via SETNX with a TTL and a Lua-based
// conditional unlock, used by the global supervisor so only one router
// instance runs the emergency-stop evaluation at a time.
func (c *Client) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.unlockScript.Run(unlockCtx, c.rdb, []string{lk}, token).Err()
	}
	return unlock, nil
}
