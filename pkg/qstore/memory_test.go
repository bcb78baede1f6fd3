package qstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/qremote/pkg/qerr"
	"github.com/quatton/qremote/pkg/qjob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	job := qjob.New("echo hi", 0, "", map[string]any{"a": 1})
	created, err := s.Create(ctx, job)
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.ModifiedAt)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo hi", got.Command)
	assert.Equal(t, qjob.StatusQueued, got.Status)

	_, err = s.Create(ctx, job)
	assert.True(t, qerr.IsCode(err, qerr.CodeAlreadyExists))
}

func TestMemoryStore_GetMissing(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), uuid.New())
	assert.True(t, qerr.IsCode(err, qerr.CodeNotFound))
}

func TestMemoryStore_ListOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s := NewMemoryStore(WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		j, err := s.Create(ctx, qjob.New("true", 0, "", nil))
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}

	all, err := s.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, ids[4], all[0].ID)
	assert.Equal(t, ids[0], all[4].ID)

	page, err := s.List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	empty, err := s.List(ctx, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestMemoryStore_MutateWritesOnlyNamedFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job, err := s.Create(ctx, qjob.New("true", 0, "", nil))
	require.NoError(t, err)

	out, err := qjob.Mutate(ctx, s, job.ID, func(j *qjob.Job) ([]qjob.Field, error) {
		j.Stdout = "hello"
		j.Command = "ignored"
		return []qjob.Field{qjob.FieldStdout}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Stdout)
	assert.Equal(t, "true", out.Command)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Stdout)
	assert.Equal(t, "true", got.Command)
}

func TestMemoryStore_FailedTxDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job, err := s.Create(ctx, qjob.New("true", 0, "", nil))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.RunInTx(ctx, func(ctx context.Context, tx qjob.Tx) error {
		j, err := tx.GetForUpdate(ctx, job.ID)
		if err != nil {
			return err
		}
		j.Stdout = "partial"
		if _, err := tx.Update(ctx, j, []qjob.Field{qjob.FieldStdout}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Stdout)
}

func TestMemoryStore_MutateSerializes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job, err := s.Create(ctx, qjob.New("true", 0, "", nil))
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := qjob.Mutate(ctx, s, job.ID, func(j *qjob.Job) ([]qjob.Field, error) {
				j.Stdout += "x"
				return []qjob.Field{qjob.FieldStdout}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, got.Stdout, workers)
}

func TestMemoryStore_LockRespectsContext(t *testing.T) {
	s := NewMemoryStore()
	job, err := s.Create(context.Background(), qjob.New("true", 0, "", nil))
	require.NoError(t, err)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.RunInTx(context.Background(), func(ctx context.Context, tx qjob.Tx) error {
			if _, err := tx.GetForUpdate(ctx, job.ID); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = qjob.Mutate(ctx, s, job.ID, func(j *qjob.Job) ([]qjob.Field, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job, err := s.Create(ctx, qjob.New("true", 0, "", nil))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, job.ID))
	_, err = s.Get(ctx, job.ID)
	assert.True(t, qerr.IsCode(err, qerr.CodeNotFound))
	assert.True(t, qerr.IsCode(s.Delete(ctx, job.ID), qerr.CodeNotFound))
}
