package ai

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/manhdua1/chat-box-v2/pkg/protocol"
)

// ErrQueueFull is returned when the pool cannot take another request
// without blocking the caller's read loop.
var ErrQueueFull = errors.New("ai request queue is full")

// Deliver pushes a frame to a connection if it is still registered.
// Satisfied by broadcast.Broadcaster.SendToConnection.
type Deliver func(connID uuid.UUID, frame []byte) bool

type job struct {
	connID uuid.UUID
	prompt string
}

// Pool runs completion requests on a fixed set of workers. A result whose
// connection closed while the model was thinking is dropped, not an error.
type Pool struct {
	client  Client
	deliver Deliver
	workers int
	jobs    chan job
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewPool(client Client, deliver Deliver, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	return &Pool{
		client:  client,
		deliver: deliver,
		workers: workers,
		jobs:    make(chan job, queueSize),
		logger:  logger.With(slog.String("component", "ai")),
	}
}

// Start launches the workers. They drain until the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit queues a request without blocking; a full queue is reported to the
// caller so it can send an error frame instead of stalling.
func (p *Pool) Submit(connID uuid.UUID, prompt string) error {
	select {
	case p.jobs <- job{connID: connID, prompt: prompt}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			p.run(ctx, j)
		}
	}
}

func (p *Pool) run(ctx context.Context, j job) {
	answer, err := p.client.Complete(ctx, j.prompt)

	var frame []byte
	if err != nil {
		p.logger.Warn("Completion failed", slog.Any("error", err))
		frame = protocol.Encode(protocol.AIError{
			Type:    protocol.TypeAIError,
			Message: "AI request failed",
		})
	} else {
		frame = protocol.Encode(protocol.AIResponse{
			Type:     protocol.TypeAIResponse,
			Response: answer,
		})
	}

	if !p.deliver(j.connID, frame) {
		p.logger.Debug("Dropping completion for closed connection",
			slog.String("connID", j.connID.String()),
		)
	}
}
