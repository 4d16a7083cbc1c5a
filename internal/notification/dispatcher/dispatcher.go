// Package dispatcher hands notifications to the job queue without letting a
// queue outage reach the caller.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"concierge/internal/notification/metrics"
	"concierge/internal/notification/models"
)

// Enqueuer is the part of the job queue the dispatcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload models.SendMailOptions, opts models.Options) (*models.Job, error)
}

type submission struct {
	ctx     context.Context
	payload models.SendMailOptions
}

// Dispatcher enqueues send-mail jobs. SendMail never returns an error: a
// failed handoff is logged and counted, and the caller carries on.
//
// By default the enqueue happens on the caller's goroutine. WithAsyncBuffer
// moves it to a single background goroutine behind a bounded buffer; when the
// buffer is full the submission is rejected at the call site.
type Dispatcher struct {
	queue          Enqueuer
	jobOptions     models.Options
	enqueueTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics

	bufferSize int
	buffer     chan submission
	done       chan struct{}
	mu         sync.RWMutex
	closed     bool
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithJobOptions overrides the retry policy applied to every job.
func WithJobOptions(opts models.Options) Option {
	return func(d *Dispatcher) {
		d.jobOptions = opts
	}
}

// WithAsyncBuffer enables background submission with a buffer of n pending
// jobs. n <= 0 keeps synchronous submission.
func WithAsyncBuffer(n int) Option {
	return func(d *Dispatcher) {
		d.bufferSize = n
	}
}

// WithEnqueueTimeout bounds a single enqueue call.
func WithEnqueueTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.enqueueTimeout = timeout
	}
}

func New(queue Enqueuer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:          queue,
		jobOptions:     models.DefaultOptions(),
		enqueueTimeout: 5 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.bufferSize > 0 {
		d.buffer = make(chan submission, d.bufferSize)
		d.done = make(chan struct{})
		go d.drain()
	}
	return d
}

// SendMail submits a send-mail job.
func (d *Dispatcher) SendMail(ctx context.Context, payload models.SendMailOptions) {
	if d.buffer == nil {
		d.enqueue(ctx, payload)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.reject(ctx, payload, "dispatcher closed")
		return
	}
	// The request context ends with the response; the background enqueue must
	// outlive it while keeping its values for logging.
	select {
	case d.buffer <- submission{ctx: context.WithoutCancel(ctx), payload: payload}:
	default:
		d.reject(ctx, payload, "dispatch buffer full")
	}
}

// Close stops accepting submissions and waits until buffered ones are enqueued.
func (d *Dispatcher) Close() {
	if d.buffer == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.buffer)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) drain() {
	defer close(d.done)
	for s := range d.buffer {
		d.enqueue(s.ctx, s.payload)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, payload models.SendMailOptions) {
	ctx, cancel := context.WithTimeout(ctx, d.enqueueTimeout)
	defer cancel()

	job, err := d.queue.Enqueue(ctx, models.SendMailJob, payload, d.jobOptions)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to add email to queue",
			"to", payload.To,
			"template", payload.Template,
			"error", err,
		)
		if d.metrics != nil {
			d.metrics.IncrementDispatchFailures()
		}
		return
	}
	d.logger.DebugContext(ctx, "email queued",
		"job_id", job.ID,
		"to", payload.To,
		"template", payload.Template,
	)
	if d.metrics != nil {
		d.metrics.IncrementEnqueued()
	}
}

func (d *Dispatcher) reject(ctx context.Context, payload models.SendMailOptions, reason string) {
	d.logger.ErrorContext(ctx, "failed to add email to queue",
		"to", payload.To,
		"template", payload.Template,
		"error", reason,
	)
	if d.metrics != nil {
		d.metrics.IncrementDispatchFailures()
	}
}
