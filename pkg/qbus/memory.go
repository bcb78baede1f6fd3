package qbus

import (
	"context"
	"errors"
	"sync"
)

const DefaultBufferSize = 256

var ErrClosed = errors.New("qbus: closed")

type memSub struct {
	ch   chan Message
	done chan struct{}
}

// MemoryBus fans messages out inside one process. Publishing never blocks:
// a subscriber whose buffer is full misses the message.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memSub]struct{}
	buffer int
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[string]map[*memSub]struct{}),
		buffer: DefaultBufferSize,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs[topic] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memSub{ch: make(chan Message, b.buffer), done: make(chan struct{})}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memSub]struct{})
	}
	b.subs[topic][sub] = struct{}{}

	s := &Subscription{C: sub.ch}
	s.closeFn = func() {
		close(sub.done)
		b.remove(topic, sub)
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-sub.done:
		}
	}()
	return s, nil
}

func (b *MemoryBus) remove(topic string, sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subs, topic)
	}
	close(sub.ch)
}

// Close ends every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.subs, topic)
	}
	return nil
}

var _ Broadcaster = (*MemoryBus)(nil)
