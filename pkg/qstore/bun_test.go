package qstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/quatton/qremote/pkg/db"
	"github.com/quatton/qremote/pkg/qerr"
	"github.com/quatton/qremote/pkg/qjob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobColumns = []string{
	"id", "command", "timeout", "priority", "status", "parameters",
	"stdout", "stderr", "task_id", "remote_process_id",
	"created_at", "modified_at", "started_at", "completed_at",
}

func mockStore(t *testing.T) (sqlmock.Sqlmock, *BunStore) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)

	bdb := db.Open(sqldb, false)
	t.Cleanup(func() { _ = bdb.Close() })

	return mock, NewBunStore(bdb)
}

func jobRow(id uuid.UUID, status string, created time.Time) []driver.Value {
	return []driver.Value{
		id.String(), "echo hi", int64(60), "Medium", status, []byte(`{"k":"v"}`),
		"", "", nil, nil,
		created, created, nil, nil,
	}
}

func TestBunStore_Get(t *testing.T) {
	mock, s := mockStore(t)
	id := uuid.New()
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM "jobs" AS "j" WHERE \(j.id = '` + id.String() + `'\)`).
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(jobRow(id, "Queued", created)...))

	job, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, qjob.StatusQueued, job.Status)
	assert.Equal(t, "v", job.Parameters["k"])
	assert.Nil(t, job.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBunStore_GetNotFound(t *testing.T) {
	mock, s := mockStore(t)

	mock.ExpectQuery(`SELECT .* FROM "jobs"`).WillReturnRows(sqlmock.NewRows(jobColumns))

	_, err := s.Get(context.Background(), uuid.New())
	assert.True(t, qerr.IsCode(err, qerr.CodeNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBunStore_ListAndCount(t *testing.T) {
	mock, s := mockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`ORDER BY j.created_at DESC, j.id DESC LIMIT 2 OFFSET 1`).
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow(jobRow(uuid.New(), "Running", now)...).
			AddRow(jobRow(uuid.New(), "Success", now.Add(-time.Second))...))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	jobs, err := s.List(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, qjob.StatusRunning, jobs[0].Status)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBunStore_MutateLocksAndUpdatesNamedColumns(t *testing.T) {
	mock, s := mockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(jobRow(id, "Queued", time.Now())...))
	mock.ExpectExec(`UPDATE "jobs" AS "j" SET "status" = 'Running', "started_at" = .*, "modified_at" = .* WHERE .*` + id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := qjob.Mutate(context.Background(), s, id, func(j *qjob.Job) ([]qjob.Field, error) {
		return j.Transition(qjob.StatusRunning, time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, qjob.StatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBunStore_MutateRollsBackOnError(t *testing.T) {
	mock, s := mockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(jobRow(id, "Success", time.Now())...))
	mock.ExpectRollback()

	_, err := qjob.Mutate(context.Background(), s, id, func(j *qjob.Job) ([]qjob.Field, error) {
		return j.Transition(qjob.StatusCancelled, time.Now())
	})
	assert.True(t, qerr.IsCode(err, qerr.CodeCannotCancel))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBunStore_DeleteNotFound(t *testing.T) {
	mock, s := mockStore(t)

	mock.ExpectExec(`DELETE FROM "jobs"`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Delete(context.Background(), uuid.New())
	assert.True(t, qerr.IsCode(err, qerr.CodeNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBunStore_CreateWrapsDriverError(t *testing.T) {
	mock, s := mockStore(t)

	mock.ExpectExec(`INSERT INTO "jobs"`).WillReturnError(errors.New("connection reset"))

	_, err := s.Create(context.Background(), qjob.New("true", 0, "", nil))
	require.Error(t, err)
	assert.Equal(t, qerr.CodeUnknown, qerr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
