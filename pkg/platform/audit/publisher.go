package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher stamps audit events and hands them to a Store. By default the
// write is synchronous; WithAsyncBuffer moves it onto a Worker so callers
// never wait on the sink.
type Publisher struct {
	store  Store
	logger *slog.Logger

	bufferSize int
	inbox      chan Event
	done       chan struct{}
	closeOnce  sync.Once
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for failed asynchronous writes.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithAsyncBuffer queues up to size events for a background worker. Emit
// blocks only when the buffer is full.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.bufferSize = size
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.inbox = make(chan Event, p.bufferSize)
		p.done = make(chan struct{})
		w := NewWorker(store, p.inbox, p.logger)
		go func() {
			defer close(p.done)
			w.Run(context.Background())
		}()
	}
	return p
}

// Emit fills in the id, timestamp and category, then stores or queues the
// event.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = AuditEvent(event.Action).Category()
	}
	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}
	select {
	case p.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued events and stops the worker. Emit must not be called
// after Close.
func (p *Publisher) Close() error {
	if p.inbox == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		close(p.inbox)
		<-p.done
	})
	return nil
}
