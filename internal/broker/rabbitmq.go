// Package broker consumes business events published by other services over
// RabbitMQ and republishes them on the in-process event bus.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"sentinal-realtime/internal/domain"
	"sentinal-realtime/pkg/events"
)

const RoutingKeyThreadCreated = "thread.created"

type Config struct {
	URL      string
	Exchange string
	Queue    string
}

// ThreadFeedConsumer reads thread-created events from a durable queue bound
// to the topic exchange.
type ThreadFeedConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  Config
	bus     *events.Bus
	logger  *zap.Logger
}

func NewThreadFeedConsumer(config Config, bus *events.Bus, logger *zap.Logger) (*ThreadFeedConsumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &ThreadFeedConsumer{conn: conn, channel: ch, config: config, bus: bus, logger: logger}
	if err := c.declare(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *ThreadFeedConsumer) declare() error {
	err := c.channel.ExchangeDeclare(
		c.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := c.channel.QueueDeclare(
		c.config.Queue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, RoutingKeyThreadCreated, c.config.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Run consumes until ctx is done or the channel closes.
func (c *ThreadFeedConsumer) Run(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.config.Queue, // queue
		"",             // consumer tag
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Thread feed consumer started",
		zap.String("exchange", c.config.Exchange), zap.String("queue", c.config.Queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

func (c *ThreadFeedConsumer) deliver(ctx context.Context, d amqp.Delivery) {
	if err := Dispatch(ctx, c.bus, d.Body); err != nil {
		c.logger.Warn("Rejecting thread feed delivery", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// Dispatch decodes a thread-created body and publishes it on bus. Bus
// handlers are best effort, so only a malformed body is an error.
func Dispatch(ctx context.Context, bus *events.Bus, body []byte) error {
	var evt domain.ThreadCreated
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("decode thread created: %w", err)
	}
	if evt.Thread.ID == "" {
		return fmt.Errorf("thread created without thread id")
	}
	for i := range evt.Participants {
		if evt.Participants[i].ThreadID == "" {
			evt.Participants[i].ThreadID = evt.Thread.ID
		}
	}
	events.Publish(ctx, bus, domain.TopicThreadCreated, evt)
	return nil
}

func (c *ThreadFeedConsumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
