// Package queue is the durable job queue between the dispatcher and the
// notification worker.
//
// A job moves waiting -> active on Claim and holds a lease while active.
// Complete removes it (or marks it completed). Fail either parks it in the
// delayed set until its backoff has elapsed, or, once every attempt is spent,
// retains it in the failed set for an operator to inspect and Retry. A job
// whose lease expires is stalled: its worker died mid-attempt, so the attempt
// is charged and the job returns to waiting.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"concierge/internal/notification/models"
)

// ErrNoJob is returned by Claim when nothing became available before the wait elapsed.
var ErrNoJob = errors.New("no job available")

const (
	// maxRetryDelay caps the exponential schedule.
	maxRetryDelay = 24 * time.Hour

	// DefaultLease is how long a claim stays valid without Complete or Fail.
	DefaultLease = 2 * time.Minute

	stalledReason = "job stalled: lease expired"
)

// Queue is a durable at-least-once job queue.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload models.SendMailOptions, opts models.Options) (*models.Job, error)
	Claim(ctx context.Context, wait time.Duration) (*models.Job, error)
	Complete(ctx context.Context, job *models.Job) error
	// Fail records a failed attempt. retried reports whether another attempt
	// was scheduled.
	Fail(ctx context.Context, job *models.Job, cause error) (retried bool, err error)
	Failed(ctx context.Context, limit int) ([]*models.Job, error)
	Retry(ctx context.Context, jobID uuid.UUID) error
	Counts(ctx context.Context) (models.Counts, error)
}

// RetryDelay is the wait before the next attempt once attemptsMade attempts
// have failed: delay * 2^(attemptsMade-1) for exponential backoff.
func RetryDelay(b models.Backoff, attemptsMade int) time.Duration {
	if attemptsMade < 1 || b.Delay <= 0 {
		return 0
	}
	if b.Type != models.BackoffExponential {
		return b.Delay
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     b.Delay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxRetryDelay,
	}
	exp.Reset()
	var next time.Duration
	for i := 0; i < attemptsMade; i++ {
		next = exp.NextBackOff()
	}
	return next
}

// newJob builds a waiting job with defaults filled in.
func newJob(name string, payload models.SendMailOptions, opts models.Options, now time.Time) *models.Job {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &models.Job{
		ID:        uuid.New(),
		Name:      name,
		Payload:   payload,
		Options:   opts,
		State:     models.StateWaiting,
		CreatedAt: now,
	}
}

// recordFailure applies one failed attempt to job and reports whether it
// should be retried, and when.
func recordFailure(job *models.Job, cause error, now time.Time) (retry bool, due time.Time) {
	job.AttemptsMade++
	if cause != nil {
		job.LastError = cause.Error()
	}
	if job.AttemptsMade < job.Options.Attempts {
		job.State = models.StateDelayed
		return true, now.Add(RetryDelay(job.Options.Backoff, job.AttemptsMade))
	}
	job.State = models.StateFailed
	job.FailedAt = &now
	return false, time.Time{}
}

// resetForRetry puts a retained job back to a fresh first attempt.
func resetForRetry(job *models.Job) {
	job.State = models.StateWaiting
	job.AttemptsMade = 0
	job.FailedAt = nil
}

// recordStalls charges n attempts lost to expired leases. It reports whether
// the job may run again; when it may not, the job is marked failed.
func recordStalls(job *models.Job, n int, now time.Time) bool {
	job.AttemptsMade += n
	job.LastError = stalledReason
	if job.AttemptsMade < job.Options.Attempts {
		job.State = models.StateWaiting
		return true
	}
	job.State = models.StateFailed
	job.FailedAt = &now
	return false
}
