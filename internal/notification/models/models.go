// Package models holds the notification job payload and queue policy types.
package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SendMailJob is the name every mail job is enqueued under.
	SendMailJob = "send-mail-job"

	// DefaultAttempts is the total number of delivery attempts, first included.
	DefaultAttempts = 3
	// DefaultBackoffDelay is the base of the exponential retry schedule.
	DefaultBackoffDelay = 5 * time.Second
)

// SendMailOptions is the job payload: who receives which template with what data.
type SendMailOptions struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Context  map[string]any `json:"context"`
}

// BackoffType selects how the retry delay grows.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff describes the delay before a retry.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Options is the per-job delivery policy.
type Options struct {
	Attempts         int     `json:"attempts"`
	Backoff          Backoff `json:"backoff"`
	RemoveOnComplete bool    `json:"remove_on_complete"`
	RemoveOnFail     bool    `json:"remove_on_fail"`
}

// DefaultOptions is the policy applied to welcome mail: three attempts,
// exponential backoff from five seconds, removed on success, kept on failure.
func DefaultOptions() Options {
	return Options{
		Attempts:         DefaultAttempts,
		Backoff:          Backoff{Type: BackoffExponential, Delay: DefaultBackoffDelay},
		RemoveOnComplete: true,
		RemoveOnFail:     false,
	}
}

// JobState is where a job currently sits in the queue.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateDelayed   JobState = "delayed"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Job is a queued unit of work.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Payload      SendMailOptions `json:"payload"`
	Options      Options         `json:"options"`
	State        JobState        `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	FailedAt     *time.Time      `json:"failed_at,omitempty"`
}

// Redacted returns a copy safe to expose to operators. The payload context
// can carry credentials, so it is dropped.
func (j Job) Redacted() Job {
	j.Payload.Context = nil
	return j
}

// Counts reports how many jobs are in each state.
type Counts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}
