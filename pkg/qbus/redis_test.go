package qbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quatton/qremote/pkg/qlog"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePubSubServer delivers published payloads to every live subscription
// on the channel, as a Valkey server would.
type fakePubSubServer struct {
	mu         sync.Mutex
	subs       map[string]map[*fakePubSub]struct{}
	receiveErr error
	publishErr error
}

func newFakePubSubServer() *fakePubSubServer {
	return &fakePubSubServer{subs: make(map[string]map[*fakePubSub]struct{})}
}

func (s *fakePubSubServer) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	for sub := range s.subs[channel] {
		sub.ch <- &redis.Message{Channel: channel, Payload: string(payload)}
	}
	return nil
}

func (s *fakePubSubServer) Subscribe(_ context.Context, channel string) pubsub {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &fakePubSub{server: s, channel: channel, ch: make(chan *redis.Message, 16)}
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[*fakePubSub]struct{})
	}
	s.subs[channel][sub] = struct{}{}
	return sub
}

func (s *fakePubSubServer) subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[channel])
}

type fakePubSub struct {
	server  *fakePubSubServer
	channel string
	ch      chan *redis.Message
	once    sync.Once
}

func (p *fakePubSub) Receive(context.Context) (any, error) {
	if p.server.receiveErr != nil {
		return nil, p.server.receiveErr
	}
	return &redis.Subscription{Kind: "subscribe", Channel: p.channel, Count: 1}, nil
}

func (p *fakePubSub) Channel(...redis.ChannelOption) <-chan *redis.Message {
	return p.ch
}

func (p *fakePubSub) Close() error {
	p.once.Do(func() {
		p.server.mu.Lock()
		delete(p.server.subs[p.channel], p)
		p.server.mu.Unlock()
		close(p.ch)
	})
	return nil
}

func newTestRedisBus() (*RedisBus, *fakePubSubServer) {
	server := newFakePubSubServer()
	return newRedisBus(server, qlog.NewDiscard().Logger), server
}

func TestRedisBus_FanOut(t *testing.T) {
	ctx := context.Background()
	bus, _ := newTestRedisBus()
	topic := JobTopic("abc")

	a, err := bus.Subscribe(ctx, topic)
	require.NoError(t, err)
	defer a.Close()
	b, err := bus.Subscribe(ctx, topic)
	require.NoError(t, err)
	defer b.Close()
	other, err := bus.Subscribe(ctx, JobTopic("other"))
	require.NoError(t, err)
	defer other.Close()

	for _, line := range []string{"one", "two", "three"} {
		require.NoError(t, bus.Publish(ctx, topic, Message{Stream: "stdout", Log: line}))
	}
	require.NoError(t, bus.Publish(ctx, topic, Message{Status: "Success"}))

	for _, sub := range []*Subscription{a, b} {
		assert.Equal(t, "one", recv(t, sub).Log)
		assert.Equal(t, "two", recv(t, sub).Log)
		assert.Equal(t, "three", recv(t, sub).Log)
		assert.True(t, recv(t, sub).IsFinal())
	}

	select {
	case m := <-other.C:
		t.Fatalf("unexpected message on other topic: %+v", m)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRedisBus_DropsMalformedMessages(t *testing.T) {
	ctx := context.Background()
	bus, server := newTestRedisBus()
	topic := JobTopic("abc")

	sub, err := bus.Subscribe(ctx, topic)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, server.Publish(ctx, topic, []byte("{not json")))
	require.NoError(t, bus.Publish(ctx, topic, Message{Stream: "stderr", Log: "boom"}))

	m := recv(t, sub)
	assert.Equal(t, "stderr", m.Stream)
	assert.Equal(t, "boom", m.Log)
}

func TestRedisBus_SubscribeFailure(t *testing.T) {
	bus, server := newTestRedisBus()
	server.receiveErr = errors.New("connection reset")

	_, err := bus.Subscribe(context.Background(), JobTopic("abc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Zero(t, server.subscribers(JobTopic("abc")))
}

func TestRedisBus_PublishFailure(t *testing.T) {
	bus, server := newTestRedisBus()
	server.publishErr = errors.New("READONLY")

	err := bus.Publish(context.Background(), JobTopic("abc"), Message{Log: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job_logs_abc")
}

func TestRedisBus_CloseEndsSubscription(t *testing.T) {
	bus, server := newTestRedisBus()
	topic := JobTopic("abc")

	sub, err := bus.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	require.Equal(t, 1, server.subscribers(topic))

	sub.Close()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, server.subscribers(topic))
}

func TestRedisBus_ContextEndsSubscription(t *testing.T) {
	bus, server := newTestRedisBus()
	topic := JobTopic("abc")
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := bus.Subscribe(ctx, topic)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool { return server.subscribers(topic) == 0 }, time.Second, 5*time.Millisecond)
	for range sub.C {
	}
}
