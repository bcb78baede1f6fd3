// Package qstore provides the qjob.Store implementations: an in-process
// store for tests and single-binary deployments, and a postgres store on bun.
package qstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/qremote/pkg/qerr"
	"github.com/quatton/qremote/pkg/qjob"
)

var _ qjob.Store = (*MemoryStore)(nil)

type memRow struct {
	job  *qjob.Job
	lock chan struct{}
}

// MemoryStore keeps jobs in a map. Row locks are one-slot channels so that
// waiting on a lock respects context cancellation.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*memRow
	now  func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for created_at and modified_at.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		rows: make(map[uuid.UUID]*memRow),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, job *qjob.Job) (*qjob.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[job.ID]; ok {
		return nil, qerr.Newf(qerr.CodeAlreadyExists, "job %s already exists", job.ID)
	}

	stored := job.Clone()
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.ModifiedAt = now
	if stored.Status == "" {
		stored.Status = qjob.StatusQueued
	}

	s.rows[stored.ID] = &memRow{job: stored, lock: make(chan struct{}, 1)}
	return stored.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*qjob.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, notFound(id)
	}
	return row.job.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*qjob.Job, error) {
	s.mu.RLock()
	jobs := make([]*qjob.Job, 0, len(s.rows))
	for _, row := range s.rows {
		jobs = append(jobs, row.job.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b *qjob.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(b.ID[:], a.ID[:])
	})

	if offset > 0 {
		if offset >= len(jobs) {
			return []*qjob.Job{}, nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	row, err := s.row(id)
	if err != nil {
		return err
	}

	if err := acquire(ctx, row); err != nil {
		return err
	}
	defer release(row)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[id] != row {
		return notFound(id)
	}
	delete(s.rows, id)
	return nil
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx qjob.Tx) error) error {
	tx := &memTx{
		store:  s,
		locked: make(map[uuid.UUID]*memRow),
		staged: make(map[uuid.UUID]*qjob.Job),
	}
	defer tx.releaseAll()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	tx.commit()
	return nil
}

func (s *MemoryStore) row(id uuid.UUID) (*memRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, notFound(id)
	}
	return row, nil
}

func acquire(ctx context.Context, row *memRow) error {
	select {
	case row.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func release(row *memRow) {
	<-row.lock
}

func notFound(id uuid.UUID) error {
	return qerr.Newf(qerr.CodeNotFound, "job %s not found", id)
}

type memTx struct {
	store  *MemoryStore
	locked map[uuid.UUID]*memRow
	staged map[uuid.UUID]*qjob.Job
}

func (tx *memTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*qjob.Job, error) {
	if job, ok := tx.staged[id]; ok {
		return job.Clone(), nil
	}

	row, ok := tx.locked[id]
	if !ok {
		var err error
		row, err = tx.store.row(id)
		if err != nil {
			return nil, err
		}
		if err := acquire(ctx, row); err != nil {
			return nil, err
		}
		tx.locked[id] = row
	}

	// The row may have been deleted while we were waiting for the lock.
	tx.store.mu.RLock()
	current, ok := tx.store.rows[id]
	tx.store.mu.RUnlock()
	if !ok || current != row {
		return nil, notFound(id)
	}

	return row.job.Clone(), nil
}

func (tx *memTx) Update(ctx context.Context, job *qjob.Job, fields []qjob.Field) (*qjob.Job, error) {
	if _, ok := tx.locked[job.ID]; !ok {
		// Writes without a prior lock take one now and hold it until commit.
		if _, err := tx.GetForUpdate(ctx, job.ID); err != nil {
			return nil, err
		}
	}

	base, ok := tx.staged[job.ID]
	if !ok {
		base = tx.locked[job.ID].job.Clone()
	}

	qjob.ApplyFields(base, job, fields)
	base.ModifiedAt = tx.store.now()
	tx.staged[job.ID] = base

	return base.Clone(), nil
}

func (tx *memTx) commit() {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for id, job := range tx.staged {
		row, ok := tx.store.rows[id]
		if !ok || row != tx.locked[id] {
			continue
		}
		row.job = job
	}
}

func (tx *memTx) releaseAll() {
	for _, row := range tx.locked {
		release(row)
	}
}
