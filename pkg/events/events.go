package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Topic names one business event and carries its payload type.
type Topic[T any] struct {
	Name string
}

func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{Name: name}
}

type Handler[T any] func(ctx context.Context, payload T) error

// Bus is an in-process publish/subscribe bus. Handlers run synchronously in
// registration order; a failing handler is logged and does not stop the rest.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]func(context.Context, any) error
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]func(context.Context, any) error),
		logger:   logger,
	}
}

// Subscribe registers h for topic. The returned func removes it.
func Subscribe[T any](b *Bus, topic Topic[T], h Handler[T]) (unsubscribe func()) {
	wrapped := func(ctx context.Context, v any) error {
		payload, ok := v.(T)
		if !ok {
			return fmt.Errorf("events: topic %s: unexpected payload %T", topic.Name, v)
		}
		return h(ctx, payload)
	}

	b.mu.Lock()
	b.handlers[topic.Name] = append(b.handlers[topic.Name], wrapped)
	idx := len(b.handlers[topic.Name]) - 1
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			hs := b.handlers[topic.Name]
			if idx < len(hs) {
				hs[idx] = nil
			}
		})
	}
}

// Publish delivers payload to every handler of topic and returns how many ran
// without error.
func Publish[T any](ctx context.Context, b *Bus, topic Topic[T], payload T) int {
	b.mu.RLock()
	hs := make([]func(context.Context, any) error, 0, len(b.handlers[topic.Name]))
	for _, h := range b.handlers[topic.Name] {
		if h != nil {
			hs = append(hs, h)
		}
	}
	b.mu.RUnlock()

	ok := 0
	for _, h := range hs {
		if err := h(ctx, payload); err != nil {
			b.logger.Error("Event handler failed", zap.String("topic", topic.Name), zap.Error(err))
			continue
		}
		ok++
	}
	return ok
}
