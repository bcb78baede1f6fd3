package qtask

import (
	"context"
	"errors"
	"time"
)

var ErrBrokerClosed = errors.New("qtask: broker closed")

// RevokeTTL bounds how long a revocation mark is kept.
const RevokeTTL = 24 * time.Hour

// Broker moves tasks from submitters to workers.
type Broker interface {
	// Enqueue makes the task available after delay.
	Enqueue(ctx context.Context, t *Task, delay time.Duration) error

	// Dequeue blocks until a task is available or ctx ends.
	Dequeue(ctx context.Context) (*Task, error)

	// Revoke marks a task id so workers skip or abort it.
	Revoke(ctx context.Context, id string) error

	IsRevoked(ctx context.Context, id string) (bool, error)

	Close() error
}

func revokeKey(id string) string {
	return "qtask:revoked:" + id
}
