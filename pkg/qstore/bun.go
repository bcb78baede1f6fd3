package qstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/qremote/pkg/db/models"
	"github.com/quatton/qremote/pkg/qerr"
	"github.com/quatton/qremote/pkg/qjob"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

var _ qjob.Store = (*BunStore)(nil)

// BunStore persists jobs in postgres. Row locks are SELECT ... FOR UPDATE
// inside a bun transaction.
type BunStore struct {
	db  bun.IDB
	now func() time.Time
}

func NewBunStore(db bun.IDB) *BunStore {
	return &BunStore{db: db, now: time.Now}
}

func (s *BunStore) Create(ctx context.Context, job *qjob.Job) (*qjob.Job, error) {
	row := toModel(job)
	now := s.now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.ModifiedAt = now
	if row.Status == "" {
		row.Status = string(qjob.StatusQueued)
	}

	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	if err != nil {
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
			return nil, qerr.Newf(qerr.CodeAlreadyExists, "job %s already exists", job.ID)
		}
		return nil, fmt.Errorf("inserting job: %w", err)
	}

	return fromModel(row), nil
}

func (s *BunStore) Get(ctx context.Context, id uuid.UUID) (*qjob.Job, error) {
	return get(ctx, s.db, id, false)
}

func (s *BunStore) List(ctx context.Context, limit, offset int) ([]*qjob.Job, error) {
	var rows []models.Job
	q := s.db.NewSelect().
		Model(&rows).
		OrderExpr("j.created_at DESC").
		OrderExpr("j.id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	jobs := make([]*qjob.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, fromModel(&rows[i]))
	}
	return jobs, nil
}

func (s *BunStore) Count(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*models.Job)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return n, nil
}

func (s *BunStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewDelete().
		Model((*models.Job)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *BunStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx qjob.Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &bunTx{tx: tx, now: s.now})
	})
}

type bunTx struct {
	tx  bun.Tx
	now func() time.Time
}

func (t *bunTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*qjob.Job, error) {
	return get(ctx, t.tx, id, true)
}

func (t *bunTx) Update(ctx context.Context, job *qjob.Job, fields []qjob.Field) (*qjob.Job, error) {
	row := toModel(job)
	row.ModifiedAt = t.now().UTC()

	columns := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		columns = append(columns, string(f))
	}
	columns = append(columns, "modified_at")

	res, err := t.tx.NewUpdate().
		Model(row).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("updating job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, notFound(job.ID)
	}

	return fromModel(row), nil
}

func get(ctx context.Context, db bun.IDB, id uuid.UUID, forUpdate bool) (*qjob.Job, error) {
	row := new(models.Job)
	q := db.NewSelect().Model(row).Where("j.id = ?", id)
	if forUpdate {
		q = q.For("UPDATE")
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("loading job: %w", err)
	}
	return fromModel(row), nil
}

func toModel(j *qjob.Job) *models.Job {
	m := &models.Job{
		ID:              j.ID,
		Command:         j.Command,
		Timeout:         j.Timeout,
		Priority:        string(j.Priority),
		Status:          string(j.Status),
		Parameters:      j.Parameters,
		Stdout:          j.Stdout,
		Stderr:          j.Stderr,
		TaskID:          j.TaskID,
		RemoteProcessID: j.RemoteProcessID,
		CreatedAt:       j.CreatedAt,
		ModifiedAt:      j.ModifiedAt,
	}
	if j.StartedAt != nil {
		m.StartedAt = *j.StartedAt
	}
	if j.CompletedAt != nil {
		m.CompletedAt = *j.CompletedAt
	}
	return m
}

func fromModel(m *models.Job) *qjob.Job {
	j := &qjob.Job{
		ID:              m.ID,
		Command:         m.Command,
		Timeout:         m.Timeout,
		Priority:        qjob.Priority(m.Priority),
		Status:          qjob.Status(m.Status),
		Parameters:      m.Parameters,
		Stdout:          m.Stdout,
		Stderr:          m.Stderr,
		TaskID:          m.TaskID,
		RemoteProcessID: m.RemoteProcessID,
		CreatedAt:       m.CreatedAt,
		ModifiedAt:      m.ModifiedAt,
	}
	if !m.StartedAt.IsZero() {
		t := m.StartedAt
		j.StartedAt = &t
	}
	if !m.CompletedAt.IsZero() {
		t := m.CompletedAt
		j.CompletedAt = &t
	}
	return j
}
