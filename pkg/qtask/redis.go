package qtask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/quatton/qremote/pkg/kv"
	"github.com/redis/go-redis/v9"
)

const (
	redisQueueKey   = "qtask:queue"
	redisDelayedKey = "qtask:delayed"
)

// redisQueue is the part of the Valkey client the broker uses.
type redisQueue interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...any) *redis.IntCmd
}

// RedisBroker keeps ready tasks in a Valkey/Redis list and delayed tasks in
// a sorted set scored by their due time. Revocation marks live in kv.
type RedisBroker struct {
	client      redisQueue
	marks       kv.Store
	pollTimeout time.Duration
}

func NewRedisBroker(client *redis.Client, marks kv.Store) *RedisBroker {
	return newRedisBroker(client, marks)
}

func newRedisBroker(client redisQueue, marks kv.Store) *RedisBroker {
	return &RedisBroker{
		client:      client,
		marks:       marks,
		pollTimeout: time.Second,
	}
}

func (b *RedisBroker) Enqueue(ctx context.Context, t *Task, delay time.Duration) error {
	task := *t
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}

	payload, err := json.Marshal(&task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	if delay <= 0 {
		return b.client.LPush(ctx, redisQueueKey, payload).Err()
	}

	due := time.Now().Add(delay).UnixMilli()
	return b.client.ZAdd(ctx, redisDelayedKey, redis.Z{Score: float64(due), Member: payload}).Err()
}

// promote moves every due delayed task onto the ready list. ZREM decides
// which worker wins a task when several promote at once.
func (b *RedisBroker) promote(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := b.client.ZRangeByScore(ctx, redisDelayedKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}

	for _, member := range due {
		removed, err := b.client.ZRem(ctx, redisDelayedKey, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := b.client.LPush(ctx, redisQueueKey, member).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (b *RedisBroker) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := b.promote(ctx); err != nil {
			return nil, fmt.Errorf("failed to promote delayed tasks: %w", err)
		}

		res, err := b.client.BRPop(ctx, b.pollTimeout, redisQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to pop task: %w", err)
		}

		// res is [key, value]
		var t Task
		if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
			return nil, fmt.Errorf("failed to decode task: %w", err)
		}
		return &t, nil
	}
}

func (b *RedisBroker) Revoke(ctx context.Context, id string) error {
	return b.marks.Set(ctx, revokeKey(id), []byte("1"), RevokeTTL)
}

func (b *RedisBroker) IsRevoked(ctx context.Context, id string) (bool, error) {
	_, err := b.marks.Get(ctx, revokeKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (b *RedisBroker) Close() error {
	return nil
}

var _ Broker = (*RedisBroker)(nil)
