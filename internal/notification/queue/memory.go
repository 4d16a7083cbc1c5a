package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"concierge/internal/notification/models"
	"concierge/pkg/platform/sentinel"
)

// MemoryQueue is an in-process Queue. Jobs do not survive a restart; it backs
// tests and local development without Redis.
type MemoryQueue struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*models.Job
	waiting []uuid.UUID
	active  map[uuid.UUID]time.Time // lease deadline
	delayed map[uuid.UUID]time.Time
	failed  []uuid.UUID

	now          func() time.Time
	lease        time.Duration
	pollInterval time.Duration
	notify       chan struct{}
}

type MemoryOption func(*MemoryQueue)

// WithClock sets the clock used for backoff scheduling.
func WithClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) {
		q.now = now
	}
}

// WithLease sets how long a claimed job may stay active before it is
// recovered as stalled.
func WithLease(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) {
		if d > 0 {
			q.lease = d
		}
	}
}

// WithPollInterval sets how often a blocked Claim rechecks delayed jobs.
func WithPollInterval(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

func NewMemory(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		jobs:         make(map[uuid.UUID]*models.Job),
		active:       make(map[uuid.UUID]time.Time),
		delayed:      make(map[uuid.UUID]time.Time),
		now:          time.Now,
		lease:        DefaultLease,
		pollInterval: 50 * time.Millisecond,
		notify:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, name string, payload models.SendMailOptions, opts models.Options) (*models.Job, error) {
	q.mu.Lock()
	job := newJob(name, payload, opts, q.now())
	q.jobs[job.ID] = job
	q.waiting = append(q.waiting, job.ID)
	out := *job
	q.mu.Unlock()

	q.wake()
	return &out, nil
}

func (q *MemoryQueue) Claim(ctx context.Context, wait time.Duration) (*models.Job, error) {
	deadline := time.Now().Add(wait)
	for {
		if job := q.tryClaim(); job != nil {
			return job, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNoJob
		}
		timer := time.NewTimer(min(remaining, q.pollInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *MemoryQueue) tryClaim() *models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteLocked()
	if len(q.waiting) == 0 {
		return nil
	}
	id := q.waiting[0]
	q.waiting = q.waiting[1:]

	job := q.jobs[id]
	job.State = models.StateActive
	now := q.now()
	job.ProcessedAt = &now
	q.active[id] = now.Add(q.lease)

	out := *job
	return &out
}

// promoteLocked moves delayed jobs whose backoff has elapsed to waiting and
// recovers active jobs whose lease expired. A recovered job goes to the front
// of waiting.
func (q *MemoryQueue) promoteLocked() {
	now := q.now()
	for id, due := range q.delayed {
		if !due.After(now) {
			delete(q.delayed, id)
			q.jobs[id].State = models.StateWaiting
			q.waiting = append(q.waiting, id)
		}
	}
	for id, deadline := range q.active {
		if deadline.After(now) {
			continue
		}
		delete(q.active, id)
		job := q.jobs[id]
		switch {
		case recordStalls(job, 1, now):
			q.waiting = append([]uuid.UUID{id}, q.waiting...)
		case job.Options.RemoveOnFail:
			delete(q.jobs, id)
		default:
			q.failed = append(q.failed, id)
		}
	}
}

func (q *MemoryQueue) Complete(_ context.Context, job *models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.jobs[job.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(q.active, job.ID)
	if stored.Options.RemoveOnComplete {
		delete(q.jobs, job.ID)
		return nil
	}
	stored.State = models.StateCompleted
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, job *models.Job, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.jobs[job.ID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	delete(q.active, job.ID)

	retry, due := recordFailure(stored, cause, q.now())
	*job = *stored
	switch {
	case retry:
		q.delayed[stored.ID] = due
	case stored.Options.RemoveOnFail:
		delete(q.jobs, stored.ID)
	default:
		q.failed = append(q.failed, stored.ID)
	}
	return retry, nil
}

// Failed returns retained jobs, most recently failed first.
func (q *MemoryQueue) Failed(_ context.Context, limit int) ([]*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*models.Job, 0, len(q.failed))
	for i := len(q.failed) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		c := *q.jobs[q.failed[i]]
		out = append(out, &c)
	}
	return out, nil
}

func (q *MemoryQueue) Retry(_ context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	idx := -1
	for i, id := range q.failed {
		if id == jobID {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return sentinel.ErrNotFound
	}
	q.failed = append(q.failed[:idx], q.failed[idx+1:]...)
	resetForRetry(q.jobs[jobID])
	q.waiting = append(q.waiting, jobID)
	q.mu.Unlock()

	q.wake()
	return nil
}

func (q *MemoryQueue) Counts(_ context.Context) (models.Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.Counts{
		Waiting: int64(len(q.waiting)),
		Active:  int64(len(q.active)),
		Delayed: int64(len(q.delayed)),
		Failed:  int64(len(q.failed)),
	}, nil
}

// Len reports how many jobs the queue still holds in any state.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
