// Package worker relays outbox entries to the event stream.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"registrar/pkg/platform/audit/store/postgres"
)

// Outbox is the relay's view of the outbox table.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]postgres.Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Message is one record for the event stream.
type Message struct {
	Key   string
	Value []byte
}

// Sink delivers messages synchronously; an error means nothing is marked.
type Sink interface {
	Publish(ctx context.Context, msgs []Message) error
}

// Worker polls the outbox and forwards pending entries. Delivery is
// at-least-once: a crash between Publish and MarkPublished resends a batch.
type Worker struct {
	outbox    Outbox
	sink      Sink
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	onRelay   func(n int)
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithRelayHook is called with the number of entries relayed per batch.
func WithRelayHook(fn func(n int)) Option {
	return func(w *Worker) {
		w.onRelay = fn
	}
}

func NewWorker(outbox Outbox, sink Sink, interval time.Duration, opts ...Option) *Worker {
	w := &Worker{
		outbox:    outbox,
		sink:      sink,
		interval:  interval,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "outbox relay failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce forwards one batch and returns how many entries were relayed.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	entries, err := w.outbox.FetchPending(ctx, w.batchSize)
	if err != nil || len(entries) == 0 {
		return 0, err
	}
	msgs := make([]Message, len(entries))
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		msgs[i] = Message{Key: e.AggregateID, Value: e.Payload}
		ids[i] = e.ID
	}
	if err := w.sink.Publish(ctx, msgs); err != nil {
		return 0, err
	}
	if err := w.outbox.MarkPublished(ctx, ids, time.Now()); err != nil {
		return 0, err
	}
	if w.onRelay != nil {
		w.onRelay(len(entries))
	}
	return len(entries), nil
}
