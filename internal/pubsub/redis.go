package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker carries topics across nodes over Redis pub/sub. Wildcard
// patterns use PSUBSCRIBE, exact topics SUBSCRIBE.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

func NewRedisBroker(ctx context.Context, addr string, logger *slog.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisBroker{
		client: client,
		logger: logger.With(slog.String("component", "pubsub")),
	}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a delivery goroutine for the pattern. It runs until the
// context is cancelled or the broker closes.
func (b *RedisBroker) Subscribe(ctx context.Context, pattern string, h Handler) error {
	var sub *redis.PubSub
	if strings.ContainsRune(pattern, '*') {
		sub = b.client.PSubscribe(ctx, pattern)
	} else {
		sub = b.client.Subscribe(ctx, pattern)
	}
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribing to %s: %w", pattern, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h(msg.Channel, []byte(msg.Payload))
			}
		}
	}()

	b.logger.Info("Redis subscription active", slog.String("pattern", pattern))
	return nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		sub.Close()
	}
	b.subs = nil
	b.mu.Unlock()
	return b.client.Close()
}
