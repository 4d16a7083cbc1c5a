package audit

import (
	"context"
	"errors"
	"log/slog"
)

// ErrBufferFull is returned by Worker.Append when the inbox has no room.
var ErrBufferFull = errors.New("audit buffer full")

// Worker is a Sink that accepts events into a bounded inbox and forwards them
// to a slower sink (Kafka) in the background, so emitting never waits on the
// broker.
type Worker struct {
	sink   Sink
	inbox  chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, buffer int, logger *slog.Logger) *Worker {
	if buffer < 1 {
		buffer = 1
	}
	return &Worker{sink: sink, inbox: make(chan Event, buffer), logger: logger}
}

func (w *Worker) Append(_ context.Context, event Event) error {
	select {
	case w.inbox <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run forwards events until ctx is cancelled, then flushes what is already
// buffered.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case event := <-w.inbox:
			w.forward(ctx, event)
		}
	}
}

func (w *Worker) flush(ctx context.Context) {
	for {
		select {
		case event := <-w.inbox:
			w.forward(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) forward(ctx context.Context, event Event) {
	if err := w.sink.Append(ctx, event); err != nil {
		w.logger.ErrorContext(ctx, "failed to publish audit event",
			"action", event.Action,
			"organization_id", event.OrganizationID,
			"error", err,
		)
	}
}
