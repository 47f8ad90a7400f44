// Package pubsub is the topic fallback for frames whose target user has no
// live connection on this node: call signals publish to "user:<id>" and chat
// traffic to "chat.<roomId>", so a peer node subscribed to those topics can
// finish the delivery.
package pubsub

import "context"

// Handler consumes one published payload. Called from the broker's delivery
// goroutine; implementations must not block.
type Handler func(topic string, payload []byte)

// Broker is a minimal publish/subscribe fabric. Patterns support a single
// trailing '*' wildcard ("user:*").
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, pattern string, h Handler) error
	Close() error
}
