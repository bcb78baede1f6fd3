package qtask

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quatton/qremote/pkg/kv"
)

// MemoryBroker keeps the queue in process memory.
type MemoryBroker struct {
	mu     sync.Mutex
	queue  []*Task
	timers map[*time.Timer]struct{}
	notify chan struct{}
	closed chan struct{}
	marks  kv.Store
}

func NewMemoryBroker(marks kv.Store) *MemoryBroker {
	if marks == nil {
		marks = kv.NewMemoryStore()
	}
	return &MemoryBroker{
		timers: make(map[*time.Timer]struct{}),
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
		marks:  marks,
	}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, t *Task, delay time.Duration) error {
	select {
	case <-b.closed:
		return ErrBrokerClosed
	default:
	}

	task := *t
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}

	if delay <= 0 {
		b.push(&task)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, timer)
		b.mu.Unlock()
		b.push(&task)
	})
	b.timers[timer] = struct{}{}
	return nil
}

func (b *MemoryBroker) push(t *Task) {
	b.mu.Lock()
	b.queue = append(b.queue, t)
	b.mu.Unlock()
	b.signal()
}

func (b *MemoryBroker) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *MemoryBroker) Dequeue(ctx context.Context) (*Task, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			t := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			more := len(b.queue) > 0
			b.mu.Unlock()
			if more {
				b.signal()
			}
			return t, nil
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-b.closed:
			return nil, ErrBrokerClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of tasks ready to be dequeued.
func (b *MemoryBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *MemoryBroker) Revoke(ctx context.Context, id string) error {
	return b.marks.Set(ctx, revokeKey(id), []byte("1"), RevokeTTL)
}

func (b *MemoryBroker) IsRevoked(ctx context.Context, id string) (bool, error) {
	_, err := b.marks.Get(ctx, revokeKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.closed:
		return nil
	default:
	}
	close(b.closed)
	for timer := range b.timers {
		timer.Stop()
	}
	b.timers = map[*time.Timer]struct{}{}
	return nil
}

var _ Broker = (*MemoryBroker)(nil)
