package qbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// pubsub is the part of a Valkey subscription the bus reads from.
type pubsub interface {
	Receive(ctx context.Context) (any, error)
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// pubsubClient is the part of the Valkey client the bus uses.
type pubsubClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) pubsub
}

type redisPubSubClient struct {
	client *redis.Client
}

func (c redisPubSubClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.client.Publish(ctx, channel, payload).Err()
}

func (c redisPubSubClient) Subscribe(ctx context.Context, channel string) pubsub {
	return c.client.Subscribe(ctx, channel)
}

// RedisBus carries messages over Valkey/Redis pub/sub so API servers and
// workers in different processes see the same topics.
type RedisBus struct {
	client pubsubClient
	logger *slog.Logger
	buffer int
}

func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	return newRedisBus(redisPubSubClient{client: client}, logger)
}

func newRedisBus(client pubsubClient, logger *slog.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger, buffer: DefaultBufferSize}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := b.client.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)

	// Wait for the subscription to be confirmed so nothing published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan Message, b.buffer)
	done := make(chan struct{})
	s := &Subscription{C: out}
	s.closeFn = func() {
		close(done)
		_ = ps.Close()
	}

	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case <-done:
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					b.logger.Warn("dropping malformed bus message", "topic", topic, "error", err)
					continue
				}
				select {
				case out <- msg:
				default:
				}
			}
		}
	}()

	return s, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (b *RedisBus) Close() error {
	return nil
}

var _ Broadcaster = (*RedisBus)(nil)
