// Package qtask is a small background task queue: named tasks with string
// arguments, delayed retries with exponential backoff, and revocation.
package qtask

import (
	"errors"
	"fmt"
	"time"
)

// Task is one unit of queued work.
type Task struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Args       map[string]string `json:"args,omitempty"`
	Attempt    int               `json:"attempt"`
	MaxRetries int               `json:"max_retries"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// CanRetry reports whether another attempt fits the retry budget.
func (t *Task) CanRetry() bool {
	return t.Attempt < t.MaxRetries
}

func (t *Task) String() string {
	return fmt.Sprintf("%s[%s]#%d", t.Name, t.ID, t.Attempt)
}

// RetryPolicy decides how often and how late failed tasks run again.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy retries three times, starting 30s out and doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    30 * time.Second,
		MaxBackoff: 10 * time.Minute,
	}
}

// Delay returns the wait before the retry that follows attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Backoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// RetryError asks the pool to run the task again.
type RetryError struct {
	Err error
}

func (e *RetryError) Error() string {
	return "retry: " + e.Err.Error()
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Retry wraps err so the pool schedules another attempt.
func Retry(err error) error {
	return &RetryError{Err: err}
}

// IsRetry reports whether err asks for another attempt.
func IsRetry(err error) bool {
	var re *RetryError
	return errors.As(err, &re)
}
