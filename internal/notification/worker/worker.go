// Package worker consumes send-mail jobs: render, send, and report the
// outcome back to the queue so failures are retried with backoff.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"concierge/internal/notification/mail"
	"concierge/internal/notification/metrics"
	"concierge/internal/notification/models"
	"concierge/internal/notification/queue"
	"concierge/pkg/email"
)

var tracer = otel.Tracer("concierge/notification/worker")

// Queue is the consumer side of the job queue.
type Queue interface {
	Claim(ctx context.Context, wait time.Duration) (*models.Job, error)
	Complete(ctx context.Context, job *models.Job) error
	Fail(ctx context.Context, job *models.Job, cause error) (bool, error)
}

// Renderer turns a template name and context into an HTML body.
type Renderer interface {
	Render(name string, data map[string]any) string
}

// Worker runs a fixed pool of consumers against the queue.
type Worker struct {
	queue       Queue
	renderer    Renderer
	transport   mail.Transport
	from        string
	concurrency int
	pollTimeout time.Duration
	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	claimRetry  func() *backoff.ExponentialBackOff
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPollTimeout bounds how long one Claim blocks before looping.
func WithPollTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollTimeout = d
		}
	}
}

// WithSendTimeout bounds a single render and send attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.sendTimeout = d
		}
	}
}

// WithClaimBackoff sets the schedule used while the queue backend is failing.
func WithClaimBackoff(initial, maxInterval time.Duration) Option {
	return func(w *Worker) {
		w.claimRetry = func() *backoff.ExponentialBackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			return b
		}
	}
}

func New(q Queue, renderer Renderer, transport mail.Transport, from string, opts ...Option) *Worker {
	w := &Worker{
		queue:       q,
		renderer:    renderer,
		transport:   transport,
		from:        from,
		concurrency: 1,
		pollTimeout: 5 * time.Second,
		sendTimeout: 30 * time.Second,
		logger:      slog.Default(),
	}
	WithClaimBackoff(200*time.Millisecond, 30*time.Second)(w)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled. It returns nil on a clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "notification worker started", "concurrency", w.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx, i)
		})
	}
	err := g.Wait()
	w.logger.Info("notification worker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) error {
	retry := w.claimRetry()
	for {
		job, err := w.queue.Claim(ctx, w.pollTimeout)
		switch {
		case err == nil:
			retry.Reset()
			w.process(ctx, job)
		case errors.Is(err, queue.ErrNoJob):
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			wait := retry.NextBackOff()
			w.logger.WarnContext(ctx, "claim job failed",
				"slot", slot,
				"error", err,
				"retry_in", wait,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
}

// process makes one delivery attempt and records the outcome on the queue.
// The send and the queue bookkeeping run on a context detached from shutdown:
// a started attempt finishes within the send timeout and is never charged for
// the worker stopping.
func (w *Worker) process(ctx context.Context, job *models.Job) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "notification.process",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.name", job.Name),
			attribute.String("mail.template", job.Payload.Template),
			attribute.Int("job.attempt", job.AttemptsMade+1),
		),
	)
	defer span.End()

	bookkeeping := context.WithoutCancel(ctx)
	log := w.logger.With("job_id", job.ID, "to", job.Payload.To, "attempt", job.AttemptsMade+1)

	if err := w.deliver(bookkeeping, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		log.ErrorContext(ctx, "failed to send email", "error", err.Error(), "detail", fmt.Sprintf("%+v", err))

		retried, qerr := w.queue.Fail(bookkeeping, job, err)
		if qerr != nil {
			log.ErrorContext(ctx, "failed to record delivery failure", "error", qerr)
			return
		}
		outcome := metrics.OutcomeRetried
		if !retried {
			outcome = metrics.OutcomeRetained
			log.WarnContext(ctx, "email retained after final attempt", "attempts", job.AttemptsMade)
		}
		w.recordDelivery(outcome, start)
		return
	}

	if err := w.queue.Complete(bookkeeping, job); err != nil {
		log.ErrorContext(ctx, "failed to complete job", "error", err)
	}
	log.InfoContext(ctx, "email sent", "template", job.Payload.Template)
	w.recordDelivery(metrics.OutcomeSent, start)
}

func (w *Worker) deliver(ctx context.Context, job *models.Job) error {
	ctx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	body := w.renderer.Render(job.Payload.Template, job.Payload.Context)
	return w.transport.Send(ctx, email.Message{
		From:    w.from,
		To:      job.Payload.To,
		Subject: job.Payload.Subject,
		HTML:    body,
	})
}

func (w *Worker) recordDelivery(outcome string, start time.Time) {
	if w.metrics != nil {
		w.metrics.RecordDelivery(outcome, start)
	}
}
