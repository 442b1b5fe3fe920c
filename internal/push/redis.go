package push

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPattern matches the per-order payment channels.
const DefaultRedisPattern = "kasir:payments:*"

// RedisSource receives push events over Redis pub/sub.
type RedisSource struct {
	client  *redis.Client
	pattern string
}

// NewRedisSource subscribes to channels matching pattern.
func NewRedisSource(client *redis.Client, pattern string) *RedisSource {
	if pattern == "" {
		pattern = DefaultRedisPattern
	}
	return &RedisSource{client: client, pattern: pattern}
}

// Channel returns the channel the gateway publishes orderID's events on.
func Channel(orderID string) string {
	return "kasir:payments:" + orderID
}

// Listen implements Source.
func (s *RedisSource) Listen(ctx context.Context, h Handler) error {
	ps := s.client.PSubscribe(ctx, s.pattern)
	defer func() { _ = ps.Close() }()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrapf(err, "psubscribe %q", s.pattern)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			if err := h(ctx, []byte(msg.Payload)); err != nil {
				return err
			}
		}
	}
}
