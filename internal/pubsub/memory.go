package pubsub

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

type subscription struct {
	pattern string
	handler Handler
}

// MemoryBroker is the single-node broker: topics fan out synchronously to
// in-process subscribers. It is the default when no Redis address is
// configured.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool
	logger *slog.Logger
}

func NewMemoryBroker(logger *slog.Logger) *MemoryBroker {
	return &MemoryBroker{logger: logger.With(slog.String("component", "pubsub"))}
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, sub := range b.subs {
		if matches(sub.pattern, topic) {
			sub.handler(topic, payload)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, pattern string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: pattern, handler: h})
	b.logger.Debug("Subscribed", slog.String("pattern", pattern))
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}

func matches(pattern, topic string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return pattern == topic
}
