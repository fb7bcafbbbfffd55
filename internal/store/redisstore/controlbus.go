package redisstore

import (
	"context"
	"fmt"
)

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redisstore: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Redis Pub/Sub subscription and returns a read-only
// channel of raw payloads. The subscription closes when ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := c.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redisstore: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
