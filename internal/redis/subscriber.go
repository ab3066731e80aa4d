package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe pattern-subscribes to patterns and calls handler for every message
// until ctx is done. onReady, if set, runs once the subscription is confirmed.
func (s *Subscriber) Subscribe(ctx context.Context, patterns []string, onReady func(), handler func(channel string, payload []byte)) error {
	sub := s.client.PSubscribe(ctx, patterns...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if onReady != nil {
		onReady()
	}

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		handler(msg.Channel, []byte(msg.Payload))
	}
}
