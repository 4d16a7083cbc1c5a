package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"concierge/internal/notification/models"
	"concierge/pkg/platform/sentinel"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type MemoryQueueSuite struct {
	suite.Suite
	clock *fakeClock
	queue *MemoryQueue
	ctx   context.Context
}

func TestMemoryQueueSuite(t *testing.T) {
	suite.Run(t, new(MemoryQueueSuite))
}

func (s *MemoryQueueSuite) SetupTest() {
	s.clock = &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.queue = NewMemory(WithClock(s.clock.Now), WithPollInterval(time.Millisecond))
	s.ctx = context.Background()
}

func (s *MemoryQueueSuite) payload() models.SendMailOptions {
	return models.SendMailOptions{
		To:       "admin@acme.test",
		Subject:  "Welcome",
		Template: "welcome-email",
		Context:  map[string]any{"name": "Acme"},
	}
}

func (s *MemoryQueueSuite) TestClaimIsFIFO() {
	first, err := s.queue.Enqueue(s.ctx, models.SendMailJob, s.payload(), models.DefaultOptions())
	s.Require().NoError(err)
	second, err := s.queue.Enqueue(s.ctx, models.SendMailJob, s.payload(), models.DefaultOptions())
	s.Require().NoError(err)

	got, err := s.queue.Claim(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(first.ID, got.ID)
	s.Equal(models.StateActive, got.State)

	got, err = s.queue.Claim(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(second.ID, got.ID)

	_, err = s.queue.Claim(s.ctx, 0)
	s.ErrorIs(err, ErrNoJob)
}

func (s *MemoryQueueSuite) TestClaimWakesOnEnqueue() {
	done := make(chan *models.Job, 1)
	go func() {
		job, err := s.queue.Claim(s.ctx, 5*time.Second)
		if err == nil {
			done <- job
		}
		close(done)
	}()

	queued, err := s.queue.Enqueue(s.ctx, models.SendMailJob, s.payload(), models.DefaultOptions())
	s.Require().NoError(err)

	select {
	case job := <-done:
		s.Require().NotNil(job)
		s.Equal(queued.ID, job.ID)
	case <-time.After(2 * time.Second):
		s.Fail("claim did not wake up")
	}
}

func (s *MemoryQueueSuite) TestClaimRespectsContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.queue.Claim(ctx, time.Second)
	s.ErrorIs(err, context.Canceled)
}

func (s *MemoryQueueSuite) TestCompleteRemovesJob() {
	_, err := s.queue.Enqueue(s.ctx, models.SendMailJob, s.payload(), models.DefaultOptions())
	s.Require().NoError(err)
	job, err := s.queue.Claim(s.ctx, 0)
	s.Require().NoError(err)

	s.Require().NoError(s.queue.Complete(s.ctx, job))
	s.Equal(0, s.queue.Len())
}

func (s *MemoryQueueSuite) TestCompleteKeepsJobWhenConfigured() {
	opts := models.DefaultOptions()
	opts.RemoveOnComplete = false
	_, err := s.queue.Enqueue(s.ctx, models.SendMailJob, s.payload(), opts)
	s.Require().NoError(err)
	job, err := s.queue.Claim(s.ctx, 0)
	s.Require().NoError(err)

	s.Require().NoError(s.queue.Complete(s.ctx, job))
	s.Equal(1, s.queue.Len())
	counts, err := s.queue.Counts(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.Counts{}, counts)
}

func (s *MemoryQueueSuite) TestFailSchedulesBackoffThenRetains() {
	boom := errors.New("smtp down")
	_, err := s.queue.Enqueue(s.ctx, models.SendMailJob, s.payload(), models.DefaultOptions())
	s.Require().NoError(err)

	s.Run("first failure delays by the base backoff", func() {
		job, err := s.queue.Claim(s.ctx, 0)
		s.Require().NoError(err)
		retried, err := s.queue.Fail(s.ctx, job, boom)
		s.Require().NoError(err)
		s.True(retried)
		s.Equal(1, job.AttemptsMade)

		s.clock.Advance(5*time.Second - time.Millisecond)
		_, err = s.queue.Claim(s.ctx, 0)
		s.ErrorIs(err, ErrNoJob, "not due before 5s")
		s.clock.Advance(time.Millisecond)
	})

	s.Run("second failure doubles the delay", func() {
		job, err := s.queue.Claim(s.ctx, 0)
		s.Require().NoError(err)
		retried, err := s.queue.Fail(s.ctx, job, boom)
		s.Require().NoError(err)
		s.True(retried)

		s.clock.Advance(10*time.Second - time.Millisecond)
		_, err = s.queue.Claim(s.ctx, 0)
		s.ErrorIs(err, ErrNoJob, "not due before 10s")
		s.clock.Advance(time.Millisecond)
	})

	s.Run("final failure retains the job", func() {
		job, err := s.queue.Claim(s.ctx, 0)
		s.Require().NoError(err)
		retried, err := s.queue.Fail(s.ctx, job, boom)
		s.Require().NoError(err)
		s.False(retried)

		failed, err := s.queue.Failed(s.ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(failed, 1)
		s.Equal(3, failed[0].AttemptsMade)
		s.Equal("smtp down", failed[0].LastError)
		s.Equal(models.StateFailed, failed[0].State)
		s.NotNil(failed[0].FailedAt)
	})
}

func (s *MemoryQueueSuite) TestFailRemovesWhenConfigured() {
	opts := models.DefaultOptions()
	opts.Attempts = 1
	opts.RemoveOnFail = true
	_, err := s.queue.Enqueue(s.ctx, models.SendMailJob, s.payload(), opts)
	s.Require().NoError(err)
	job, err := s.queue.Claim(s.ctx, 0)
	s.Require().NoError(err)

	retried, err := s.queue.Fail(s.ctx, job, errors.New("boom"))
	s.Require().NoError(err)
	s.False(retried)
	s.Equal(0, s.queue.Len())
}

func (s *MemoryQueueSuite) TestRetryRequeuesRetainedJob() {
	opts := models.DefaultOptions()
	opts.Attempts = 1
	queued, err := s.queue.Enqueue(s.ctx, models.SendMailJob, s.payload(), opts)
	s.Require().NoError(err)
	job, err := s.queue.Claim(s.ctx, 0)
	s.Require().NoError(err)
	_, err = s.queue.Fail(s.ctx, job, errors.New("boom"))
	s.Require().NoError(err)

	s.Require().NoError(s.queue.Retry(s.ctx, queued.ID))

	again, err := s.queue.Claim(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(queued.ID, again.ID)
	s.Equal(0, again.AttemptsMade)

	s.ErrorIs(s.queue.Retry(s.ctx, uuid.New()), sentinel.ErrNotFound)
}

func (s *MemoryQueueSuite) TestCounts() {
	for i := 0; i < 3; i++ {
		_, err := s.queue.Enqueue(s.ctx, models.SendMailJob, s.payload(), models.DefaultOptions())
		s.Require().NoError(err)
	}
	job, err := s.queue.Claim(s.ctx, 0)
	s.Require().NoError(err)
	second, err := s.queue.Claim(s.ctx, 0)
	s.Require().NoError(err)
	_, err = s.queue.Fail(s.ctx, second, errors.New("boom"))
	s.Require().NoError(err)

	counts, err := s.queue.Counts(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.Counts{Waiting: 1, Active: 1, Delayed: 1}, counts)
	s.Require().NoError(s.queue.Complete(s.ctx, job))
}

func (s *MemoryQueueSuite) TestExpiredLeaseReturnsJobAndChargesAttempt() {
	queued, err := s.queue.Enqueue(s.ctx, models.SendMailJob, s.payload(), models.DefaultOptions())
	s.Require().NoError(err)
	_, err = s.queue.Enqueue(s.ctx, models.SendMailJob, s.payload(), models.DefaultOptions())
	s.Require().NoError(err)

	claimed, err := s.queue.Claim(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(queued.ID, claimed.ID)

	// the worker holding the claim disappears without Complete or Fail
	s.clock.Advance(DefaultLease - time.Millisecond)
	counts, err := s.queue.Counts(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), counts.Active)

	s.clock.Advance(time.Millisecond)
	again, err := s.queue.Claim(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(queued.ID, again.ID, "recovered job is claimed before later work")
	s.Equal(1, again.AttemptsMade)
	s.Equal(stalledReason, again.LastError)
}

func (s *MemoryQueueSuite) TestStalledJobOutOfAttemptsIsRetained() {
	q := NewMemory(WithClock(s.clock.Now), WithLease(time.Second))
	opts := models.DefaultOptions()
	opts.Attempts = 1
	queued, err := q.Enqueue(s.ctx, models.SendMailJob, s.payload(), opts)
	s.Require().NoError(err)
	_, err = q.Claim(s.ctx, 0)
	s.Require().NoError(err)

	s.clock.Advance(time.Second)
	_, err = q.Claim(s.ctx, 0)
	s.ErrorIs(err, ErrNoJob)

	failed, err := q.Failed(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(failed, 1)
	s.Equal(queued.ID, failed[0].ID)
	s.Equal(models.StateFailed, failed[0].State)
}
