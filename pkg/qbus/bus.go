// Package qbus fans job output out to live listeners. Delivery is
// at-most-once with no replay: a listener only sees what is published after
// it subscribed.
package qbus

import (
	"context"
	"sync"
)

// Message is one frame on a job topic. Log frames carry Stream and Log, the
// closing frame carries Status.
type Message struct {
	Stream string `json:"stream,omitempty"`
	Log    string `json:"log,omitempty"`
	Status string `json:"status,omitempty"`
}

// IsFinal reports whether m is the closing status frame.
func (m Message) IsFinal() bool {
	return m.Status != ""
}

// Publisher sends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// Broadcaster is a Publisher that can also be listened to.
type Broadcaster interface {
	Publisher
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// JobTopic is the topic carrying a job's output.
func JobTopic(jobID string) string {
	return "job_logs_" + jobID
}

// Subscription delivers messages on C until Close is called or the context
// passed to Subscribe ends.
type Subscription struct {
	C <-chan Message

	once    sync.Once
	closeFn func()
}

func (s *Subscription) Close() {
	s.once.Do(s.closeFn)
}
