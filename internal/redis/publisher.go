package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Pub/sub channel patterns for cross-instance fan-out.
const (
	ThreadChannelPrefix = "channel:thread:"
	UserChannelPrefix   = "channel:user:"
	FanoutPattern       = "channel:*"
)

type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}
