package qtask

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/quatton/qremote/pkg/kv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue keeps lists and sorted sets in memory with the semantics the
// broker relies on.
type fakeQueue struct {
	mu     sync.Mutex
	lists  map[string][]string
	zsets  map[string]map[string]float64
	onZRem func(member string)
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		lists: make(map[string][]string),
		zsets: make(map[string]map[string]float64),
	}
}

func member(v any) string {
	switch m := v.(type) {
	case []byte:
		return string(m)
	case string:
		return m
	default:
		return fmt.Sprint(m)
	}
}

func (q *fakeQueue) LPush(_ context.Context, key string, values ...any) *redis.IntCmd {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, v := range values {
		q.lists[key] = append([]string{member(v)}, q.lists[key]...)
	}
	return redis.NewIntResult(int64(len(q.lists[key])), nil)
}

func (q *fakeQueue) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		for _, key := range keys {
			list := q.lists[key]
			if n := len(list); n > 0 {
				v := list[n-1]
				q.lists[key] = list[:n-1]
				q.mu.Unlock()
				return redis.NewStringSliceResult([]string{key, v}, nil)
			}
		}
		q.mu.Unlock()

		if time.Now().After(deadline) {
			return redis.NewStringSliceResult(nil, redis.Nil)
		}
		select {
		case <-ctx.Done():
			return redis.NewStringSliceResult(nil, ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}
}

func (q *fakeQueue) ZAdd(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.zsets[key] == nil {
		q.zsets[key] = make(map[string]float64)
	}
	for _, z := range members {
		q.zsets[key][member(z.Member)] = z.Score
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (q *fakeQueue) ZRangeByScore(_ context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	lo, err := strconv.ParseFloat(opt.Min, 64)
	if err != nil {
		return redis.NewStringSliceResult(nil, err)
	}
	hi, err := strconv.ParseFloat(opt.Max, 64)
	if err != nil {
		return redis.NewStringSliceResult(nil, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for m, score := range q.zsets[key] {
		if score >= lo && score <= hi {
			out = append(out, m)
		}
	}
	set := q.zsets[key]
	sort.Slice(out, func(i, j int) bool { return set[out[i]] < set[out[j]] })
	return redis.NewStringSliceResult(out, nil)
}

func (q *fakeQueue) ZRem(_ context.Context, key string, members ...any) *redis.IntCmd {
	if q.onZRem != nil {
		for _, m := range members {
			q.onZRem(member(m))
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, m := range members {
		if _, ok := q.zsets[key][member(m)]; ok {
			delete(q.zsets[key], member(m))
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (q *fakeQueue) listLen(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lists[key])
}

func (q *fakeQueue) zsetLen(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.zsets[key])
}

func newTestRedisBroker() (*RedisBroker, *fakeQueue) {
	q := newFakeQueue()
	b := newRedisBroker(q, kv.NewMemoryStore())
	b.pollTimeout = 5 * time.Millisecond
	return b, q
}

func TestRedisBroker_EnqueueDequeue(t *testing.T) {
	b, q := newTestRedisBroker()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, b.Enqueue(ctx, &Task{ID: "t1", Name: "run_job", Args: map[string]string{"job_id": "42"}}, 0))
	require.NoError(t, b.Enqueue(ctx, &Task{ID: "t2", Name: "run_job"}, 0))
	assert.Equal(t, 2, q.listLen(redisQueueKey))

	first, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", first.ID)
	assert.Equal(t, "42", first.Args["job_id"])
	assert.False(t, first.EnqueuedAt.IsZero())

	second, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t2", second.ID)
}

func TestRedisBroker_DelayedTaskIsPromoted(t *testing.T) {
	b, q := newTestRedisBroker()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, b.Enqueue(ctx, &Task{ID: "later"}, 50*time.Millisecond))
	require.NoError(t, b.Enqueue(ctx, &Task{ID: "now"}, 0))
	assert.Equal(t, 1, q.zsetLen(redisDelayedKey))
	assert.Equal(t, 1, q.listLen(redisQueueKey))

	first, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "now", first.ID)
	assert.Equal(t, 1, q.zsetLen(redisDelayedKey))

	second, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "later", second.ID)
	assert.Equal(t, 0, q.zsetLen(redisDelayedKey))
}

func TestRedisBroker_PromotesInDueOrder(t *testing.T) {
	b, _ := newTestRedisBroker()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, b.Enqueue(ctx, &Task{ID: "third"}, 30*time.Millisecond))
	require.NoError(t, b.Enqueue(ctx, &Task{ID: "first"}, 10*time.Millisecond))
	require.NoError(t, b.Enqueue(ctx, &Task{ID: "second"}, 20*time.Millisecond))
	time.Sleep(60 * time.Millisecond)

	var got []string
	for range 3 {
		task, err := b.Dequeue(ctx)
		require.NoError(t, err)
		got = append(got, task.ID)
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestRedisBroker_PromoteSkipsTaskTakenElsewhere(t *testing.T) {
	b, q := newTestRedisBroker()
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, &Task{ID: "contested"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	// Another worker removes the member between the range and our ZREM.
	q.onZRem = func(m string) {
		q.mu.Lock()
		delete(q.zsets[redisDelayedKey], m)
		q.mu.Unlock()
	}

	require.NoError(t, b.promote(ctx))
	assert.Equal(t, 0, q.listLen(redisQueueKey))
	assert.Equal(t, 0, q.zsetLen(redisDelayedKey))
}

func TestRedisBroker_DequeueRejectsMalformedPayload(t *testing.T) {
	b, q := newTestRedisBroker()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q.LPush(ctx, redisQueueKey, "not json")
	_, err := b.Dequeue(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode task")
}

func TestRedisBroker_DequeueHonorsContext(t *testing.T) {
	b, _ := newTestRedisBroker()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisBroker_Revoke(t *testing.T) {
	b, _ := newTestRedisBroker()
	ctx := context.Background()

	revoked, err := b.IsRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, b.Revoke(ctx, "t1"))
	revoked, err = b.IsRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, revoked)
}
