package sink

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// RedisSink publishes detection events to a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink creates a RedisSink. The client is shared with the rest
// of the application and is not closed here.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{
		client:  client,
		channel: channel,
	}
}

func (s *RedisSink) Publish(ctx context.Context, msg Message) error {
	return s.client.Publish(ctx, s.channel, msg).Err()
}

func (s *RedisSink) Type() string {
	return "redis"
}

func (s *RedisSink) Close() error {
	return nil
}
