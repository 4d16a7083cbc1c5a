package mail

import (
	"context"
	"sync"

	"concierge/pkg/email"
)

// Recorder is an in-memory Transport. It keeps every delivered message and can
// be scripted to fail a number of upcoming sends.
type Recorder struct {
	mu       sync.Mutex
	sent     []email.Message
	attempts int
	failures []error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailNext makes the next len(errs) sends return errs in order.
func (r *Recorder) FailNext(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, errs...)
}

func (r *Recorder) Send(ctx context.Context, msg email.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts++
	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		return err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages.
func (r *Recorder) Sent() []email.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]email.Message(nil), r.sent...)
}

// Attempts counts every Send call, failed ones included.
func (r *Recorder) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}
