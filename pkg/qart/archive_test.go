package qart

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/quatton/qremote/pkg/qjob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiver_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("jobs")
	a := NewArchiver(store, time.Minute)

	job := qjob.New("echo ok", 5, qjob.PriorityLow, nil)
	job.Status = qjob.StatusSuccess
	job.Stdout = "ok\n"

	arts, err := a.Archive(ctx, job)
	require.NoError(t, err)
	assert.Len(t, arts, 3)

	listed, err := a.List(ctx, job.ID.String())
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, JobKey(job.ID.String(), "job.json"), listed[0].Key)
	assert.NotEmpty(t, listed[0].URL)

	rc, err := store.Download(ctx, JobKey(job.ID.String(), "stdout.log"))
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "ok\n", string(body))

	rc, err = store.Download(ctx, JobKey(job.ID.String(), "job.json"))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.NewDecoder(rc).Decode(&rec))
	assert.Equal(t, "Success", rec["status"])

	require.NoError(t, a.Delete(ctx, job.ID.String()))
	listed, err = a.List(ctx, job.ID.String())
	require.NoError(t, err)
	assert.Empty(t, listed)

	_, err = store.Download(ctx, JobKey(job.ID.String(), "stdout.log"))
	assert.ErrorIs(t, err, ErrNotFound)
}
