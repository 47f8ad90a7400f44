package pubsub

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type collector struct {
	mu     sync.Mutex
	topics []string
}

func (c *collector) handle(topic string, _ []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

func TestExactTopicDelivery(t *testing.T) {
	b := NewMemoryBroker(newTestLogger())
	ctx := context.Background()
	c := &collector{}

	b.Subscribe(ctx, "user:alice", c.handle)
	b.Publish(ctx, "user:alice", []byte("hi"))
	b.Publish(ctx, "user:bob", []byte("hi"))

	if got := c.got(); len(got) != 1 || got[0] != "user:alice" {
		t.Errorf("delivered topics = %v, want [user:alice]", got)
	}
}

func TestWildcardPattern(t *testing.T) {
	b := NewMemoryBroker(newTestLogger())
	ctx := context.Background()
	c := &collector{}

	b.Subscribe(ctx, "user:*", c.handle)
	b.Publish(ctx, "user:alice", nil)
	b.Publish(ctx, "user:bob", nil)
	b.Publish(ctx, "chat.room-1", nil)

	if got := c.got(); len(got) != 2 {
		t.Errorf("delivered topics = %v, want the two user:* topics", got)
	}
}

func TestClosedBrokerDropsPublishes(t *testing.T) {
	b := NewMemoryBroker(newTestLogger())
	ctx := context.Background()
	c := &collector{}

	b.Subscribe(ctx, "chat.*", c.handle)
	b.Close()
	if err := b.Publish(ctx, "chat.room-1", nil); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
	if len(c.got()) != 0 {
		t.Error("closed broker still delivered")
	}
}
