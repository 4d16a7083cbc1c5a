package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"concierge/internal/notification/mail"
	"concierge/internal/notification/metrics"
	"concierge/internal/notification/models"
	"concierge/internal/notification/queue"
	"concierge/internal/notification/templates"
	"concierge/pkg/email"
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

// syncBuffer guards log output written from worker goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type WorkerSuite struct {
	suite.Suite
	clock     *fakeClock
	queue     *queue.MemoryQueue
	transport *mail.Recorder
	metrics   *metrics.Metrics
	logs      *syncBuffer
	worker    *Worker

	cancel context.CancelFunc
	done   chan error
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.clock = &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.queue = queue.NewMemory(queue.WithClock(s.clock.Now), queue.WithPollInterval(time.Millisecond))
	s.transport = mail.NewRecorder()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.logs = &syncBuffer{}

	renderer, err := templates.New()
	s.Require().NoError(err)

	s.worker = New(s.queue, renderer, s.transport, "no-reply@concierge.local",
		WithLogger(slog.New(slog.NewJSONHandler(s.logs, nil))),
		WithMetrics(s.metrics),
		WithConcurrency(2),
		WithPollTimeout(20*time.Millisecond),
	)
}

func (s *WorkerSuite) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- s.worker.Run(ctx) }()
}

func (s *WorkerSuite) stop() {
	s.cancel()
	select {
	case err := <-s.done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("worker did not stop")
	}
}

func (s *WorkerSuite) enqueueWelcome() *models.Job {
	job, err := s.queue.Enqueue(context.Background(), models.SendMailJob, models.SendMailOptions{
		To:       "admin@acmegardens.test",
		Subject:  "Welcome to Concierge Control, Acme Gardens!",
		Template: templates.WelcomeEmail,
		Context:  map[string]any{"name": "Acme Gardens", "adminEmail": "admin@acmegardens.test", "password": "Tmp-Pass-123"},
	}, models.DefaultOptions())
	s.Require().NoError(err)
	return job
}

func (s *WorkerSuite) attemptsReach(n int) bool {
	return s.Eventually(func() bool { return s.transport.Attempts() >= n }, 2*time.Second, 5*time.Millisecond)
}

// waitDelayed blocks until the failed attempt has been rescheduled, so clock
// advances are measured from the recorded failure.
func (s *WorkerSuite) waitDelayed() {
	s.Require().Eventually(func() bool {
		counts, err := s.queue.Counts(context.Background())
		return err == nil && counts.Delayed == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *WorkerSuite) TestDeliversRenderedWelcome() {
	s.enqueueWelcome()
	s.start()
	defer s.stop()

	s.Require().True(s.attemptsReach(1))
	s.Eventually(func() bool { return s.queue.Len() == 0 }, time.Second, 5*time.Millisecond, "job removed on completion")

	sent := s.transport.Sent()
	s.Require().Len(sent, 1)
	s.Equal("admin@acmegardens.test", sent[0].To)
	s.Equal("no-reply@concierge.local", sent[0].From)
	s.Equal("Welcome to Concierge Control, Acme Gardens!", sent[0].Subject)
	s.Contains(sent[0].HTML, "Tmp-Pass-123")
	s.NotContains(s.logs.String(), "Tmp-Pass-123")
}

func (s *WorkerSuite) TestRetriesWithExponentialBackoff() {
	boom := errors.New("smtp: 421 service not available")
	s.transport.FailNext(boom, boom)
	s.enqueueWelcome()
	s.start()
	defer s.stop()

	s.Require().True(s.attemptsReach(1), "first attempt")
	s.waitDelayed()

	s.clock.Advance(5*time.Second - time.Millisecond)
	s.Never(func() bool { return s.transport.Attempts() > 1 }, 100*time.Millisecond, 5*time.Millisecond, "second attempt waits 5s")
	s.clock.Advance(time.Millisecond)
	s.Require().True(s.attemptsReach(2), "second attempt")
	s.waitDelayed()

	s.clock.Advance(10*time.Second - time.Millisecond)
	s.Never(func() bool { return s.transport.Attempts() > 2 }, 100*time.Millisecond, 5*time.Millisecond, "third attempt waits 10s")
	s.clock.Advance(time.Millisecond)
	s.Require().True(s.attemptsReach(3), "third attempt")

	s.Eventually(func() bool { return s.queue.Len() == 0 }, time.Second, 5*time.Millisecond, "job removed after success")
	s.Len(s.transport.Sent(), 1)
	s.Equal(2.0, promtest.ToFloat64(s.metrics.Deliveries.WithLabelValues(metrics.OutcomeRetried)))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Deliveries.WithLabelValues(metrics.OutcomeSent)))
	s.Contains(s.logs.String(), "smtp: 421 service not available")
}

func (s *WorkerSuite) TestRetainsAfterFinalAttempt() {
	boom := errors.New("mailbox unavailable")
	s.transport.FailNext(boom, boom, boom)
	job := s.enqueueWelcome()
	s.start()
	defer s.stop()

	s.Require().True(s.attemptsReach(1))
	s.waitDelayed()
	s.clock.Advance(5 * time.Second)
	s.Require().True(s.attemptsReach(2))
	s.waitDelayed()
	s.clock.Advance(10 * time.Second)
	s.Require().True(s.attemptsReach(3))

	s.Eventually(func() bool {
		failed, err := s.queue.Failed(context.Background(), 10)
		return err == nil && len(failed) == 1
	}, time.Second, 5*time.Millisecond)

	failed, err := s.queue.Failed(context.Background(), 10)
	s.Require().NoError(err)
	s.Equal(job.ID, failed[0].ID)
	s.Equal(3, failed[0].AttemptsMade)
	s.Equal("mailbox unavailable", failed[0].LastError)
	s.Empty(s.transport.Sent())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Deliveries.WithLabelValues(metrics.OutcomeRetained)))
}

func (s *WorkerSuite) TestUnknownTemplateSendsEmptyBody() {
	_, err := s.queue.Enqueue(context.Background(), models.SendMailJob, models.SendMailOptions{
		To:       "someone@acme.test",
		Subject:  "Hello",
		Template: "does-not-exist",
	}, models.DefaultOptions())
	s.Require().NoError(err)
	s.start()
	defer s.stop()

	s.Require().True(s.attemptsReach(1))
	sent := s.transport.Sent()
	s.Require().Len(sent, 1)
	s.Empty(sent[0].HTML)
}

type flakyQueue struct {
	Queue
	mu       sync.Mutex
	failures int
	claims   int
}

func (q *flakyQueue) Claim(ctx context.Context, wait time.Duration) (*models.Job, error) {
	q.mu.Lock()
	q.claims++
	if q.failures > 0 {
		q.failures--
		q.mu.Unlock()
		return nil, errors.New("redis: connection refused")
	}
	q.mu.Unlock()
	return q.Queue.Claim(ctx, wait)
}

func (s *WorkerSuite) TestClaimErrorsBackOff() {
	flaky := &flakyQueue{Queue: s.queue, failures: 2}
	renderer, err := templates.New()
	s.Require().NoError(err)
	s.worker = New(flaky, renderer, s.transport, "no-reply@concierge.local",
		WithLogger(slog.New(slog.NewJSONHandler(s.logs, nil))),
		WithPollTimeout(20*time.Millisecond),
		WithClaimBackoff(time.Millisecond, 5*time.Millisecond),
	)
	s.enqueueWelcome()
	s.start()
	defer s.stop()

	s.Require().True(s.attemptsReach(1), "recovers once the backend is back")
	s.Contains(s.logs.String(), "claim job failed")
}

// slowTransport holds a send open until released and reports whatever the
// send context says at that point.
type slowTransport struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (t *slowTransport) Send(ctx context.Context, _ email.Message) error {
	t.once.Do(func() { close(t.started) })
	select {
	case <-t.release:
	case <-ctx.Done():
	}
	return ctx.Err()
}

func (s *WorkerSuite) TestShutdownLetsInFlightSendFinish() {
	transport := &slowTransport{started: make(chan struct{}), release: make(chan struct{})}
	renderer, err := templates.New()
	s.Require().NoError(err)
	s.worker = New(s.queue, renderer, transport, "no-reply@concierge.local",
		WithLogger(slog.New(slog.NewJSONHandler(s.logs, nil))),
		WithMetrics(s.metrics),
		WithPollTimeout(20*time.Millisecond),
	)
	s.enqueueWelcome()
	s.start()

	select {
	case <-transport.started:
	case <-time.After(2 * time.Second):
		s.FailNow("send never started")
	}
	s.cancel()
	time.Sleep(20 * time.Millisecond)
	close(transport.release)

	select {
	case err := <-s.done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.FailNow("worker did not stop")
	}

	s.Equal(0, s.queue.Len(), "attempt completed instead of being charged as a failure")
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Deliveries.WithLabelValues(metrics.OutcomeSent)))
	s.Equal(0.0, promtest.ToFloat64(s.metrics.Deliveries.WithLabelValues(metrics.OutcomeRetried)))
}
