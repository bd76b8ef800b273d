package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/halirc/internal/message"
)

// Request defaults.
const (
	// FireAndForget as timeout marks a request that expects no answer.
	FireAndForget time.Duration = -1

	// DefaultTimeout is how long a request waits for its answer.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxRetries bounds how often a timed out request is re-sent.
	DefaultMaxRetries = 2
)

// Request is one pending exchange with a device.
//
// It completes exactly once, either with the answer message (nil for
// fire-and-forget) or with an error. Callers wait on it with Wait.
type Request struct {
	ID      string
	Device  string
	Message message.Message
	Timeout time.Duration

	mu       sync.Mutex
	created  time.Time
	sent     time.Time
	answered time.Time
	retries  int
	attempt  int

	once   sync.Once
	done   chan struct{}
	answer message.Message
	err    error
}

// NewRequest creates a request for msg. A zero timeout means DefaultTimeout.
func NewRequest(deviceName string, msg message.Message, timeout time.Duration) *Request {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Request{
		ID:      uuid.NewString(),
		Device:  deviceName,
		Message: msg,
		Timeout: timeout,
		created: time.Now(),
		done:    make(chan struct{}),
	}
}

// IsFireAndForget reports whether the request expects no answer.
func (r *Request) IsFireAndForget() bool {
	return r.Timeout == FireAndForget
}

// Done is closed when the request completed.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request completed or ctx is done.
//
// Cancelling ctx only stops waiting; the request itself stays queued
// and completes on its own.
func (r *Request) Wait(ctx context.Context) (message.Message, error) {
	select {
	case <-r.done:
		return r.answer, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Completed reports whether the request already has a result.
func (r *Request) Completed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Err returns the failure of a completed request, nil otherwise.
func (r *Request) Err() error {
	if !r.Completed() {
		return nil
	}
	return r.err
}

// complete stores the result. Only the first call has any effect.
func (r *Request) complete(answer message.Message, err error) bool {
	completed := false
	r.once.Do(func() {
		r.answer = answer
		r.err = err
		close(r.done)
		completed = true
	})
	return completed
}

// CreatedAt returns when the request was created.
func (r *Request) CreatedAt() time.Time {
	return r.created
}

// SentAt returns when the request was last written, zero if never.
func (r *Request) SentAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// AnsweredAt returns when the answer arrived, zero if none.
func (r *Request) AnsweredAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answered
}

// Retries returns how often the request has been re-sent.
func (r *Request) Retries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries
}

func (r *Request) markSent(t time.Time) {
	r.mu.Lock()
	r.sent = t
	r.mu.Unlock()
}

func (r *Request) markAnswered(t time.Time) {
	r.mu.Lock()
	r.answered = t
	r.mu.Unlock()
}

// nextAttempt starts a new send attempt and returns its number. Timeout
// checks carry the attempt they were armed for.
func (r *Request) nextAttempt(retry bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if retry {
		r.retries++
	}
	r.attempt++
	return r.attempt
}

func (r *Request) currentAttempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// Latency returns the time from the last write to the answer, or zero.
func (r *Request) Latency() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent.IsZero() || r.answered.IsZero() {
		return 0
	}
	return r.answered.Sub(r.sent)
}

// String describes the request for logging.
func (r *Request) String() string {
	sent := r.SentAt()
	comment := ""
	switch {
	case !sent.IsZero():
		comment = fmt.Sprintf(" sent %.3f seconds ago", time.Since(sent).Seconds())
	case time.Since(r.created) >= 100*time.Millisecond:
		comment = fmt.Sprintf(" unsent, created %.3f seconds ago", time.Since(r.created).Seconds())
	}
	return fmt.Sprintf("%s %s %s%s", r.ID[:8], r.Device, r.Message, comment)
}
