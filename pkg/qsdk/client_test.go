package qsdk

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quatton/qremote/pkg/qapi"
	"github.com/quatton/qremote/pkg/qapi/schemas"
	"github.com/quatton/qremote/pkg/qapi/services"
	"github.com/quatton/qremote/pkg/qapi/services/jobs"
	"github.com/quatton/qremote/pkg/qbus"
	"github.com/quatton/qremote/pkg/qerr"
	"github.com/quatton/qremote/pkg/qlog"
	"github.com/quatton/qremote/pkg/qrunner"
	"github.com/quatton/qremote/pkg/qstore"
	"github.com/quatton/qremote/pkg/qtask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer runs the full API against in-memory backends and a local
// shell, with a live worker pool.
func newTestServer(t *testing.T) *Client {
	t.Helper()
	logger := qlog.NewDiscard().Logger

	store := qstore.NewMemoryStore()
	bus := qbus.NewMemoryBus()
	pool := qtask.NewPool(qtask.NewMemoryBroker(nil),
		qtask.WithConcurrency(2),
		qtask.WithRevokePollInterval(20*time.Millisecond),
		qtask.WithRetryPolicy(qtask.RetryPolicy{MaxRetries: 0, Backoff: 10 * time.Millisecond}),
		qtask.WithPoolLogger(logger),
	)
	transport := qrunner.NewLocalTransport()
	executor := qrunner.NewExecutor(transport, qrunner.WithPollInterval(10*time.Millisecond))
	runner := jobs.NewTaskRunner(store, executor, bus, pool, logger)
	runner.Register(pool)

	svcs := &services.Services{
		Jobs:   jobs.NewService(store, pool, runner, logger),
		Runner: runner,
		Pool:   pool,
		Bus:    bus,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()

	srv := httptest.NewServer(qapi.NewServer(svcs, logger))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		_ = bus.Close()
	})
	return NewClient(srv.URL + "/")
}

func TestClient_SubmitAndWait(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()

	job, err := c.CreateJob(ctx, schemas.CreateJobRequest{Command: "echo ok", Timeout: 5})
	require.NoError(t, err)
	assert.Equal(t, "Queued", job.Status)

	done, err := c.WaitJob(ctx, job.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "Success", done.Status)
	assert.Equal(t, "ok\n", done.Stdout)
	assert.NotNil(t, done.CompletedAt)

	list, err := c.ListJobs(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalCount)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, job.ID, list.Jobs[0].ID)
}

func TestClient_StreamLogs(t *testing.T) {
	c := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := c.CreateJob(ctx, schemas.CreateJobRequest{
		Command:   "sleep 0.3; echo one; echo two",
		Timeout:   5,
		Streaming: true,
	})
	require.NoError(t, err)

	var out strings.Builder
	status, err := c.StreamLogs(ctx, job.ID, func(m qbus.Message) error {
		if m.Stream == "stdout" {
			out.WriteString(m.Log)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Success", status)
	assert.Equal(t, "one\ntwo\n", out.String())
}

func TestClient_CancelAndErrors(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()

	job, err := c.CreateJob(ctx, schemas.CreateJobRequest{Command: "sleep 30", Timeout: 60})
	require.NoError(t, err)

	cancelled, err := c.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", cancelled.Status)

	_, err = c.CancelJob(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, qerr.IsCode(err, qerr.CodeCannotCancel), "got %v", err)
	assert.Contains(t, err.Error(), "job with status 'Cancelled' cannot be cancelled")

	require.NoError(t, c.DeleteJob(ctx, job.ID))

	_, err = c.GetJob(ctx, job.ID)
	assert.True(t, qerr.IsCode(err, qerr.CodeNotFound), "got %v", err)

	_, err = c.StreamLogs(ctx, job.ID, func(qbus.Message) error { return nil })
	assert.True(t, qerr.IsCode(err, qerr.CodeNotFound), "got %v", err)
}

func TestClient_ValidationError(t *testing.T) {
	c := newTestServer(t)

	_, err := c.CreateJob(context.Background(), schemas.CreateJobRequest{Command: "true", Timeout: 4000})
	require.Error(t, err)
	assert.True(t, qerr.IsCode(err, qerr.CodeInvalidArgument), "got %v", err)
}

func TestClient_UpdateAndHealth(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)

	job, err := c.CreateJob(ctx, schemas.CreateJobRequest{Command: "sleep 30", Timeout: 60})
	require.NoError(t, err)
	defer c.CancelJob(ctx, job.ID) //nolint:errcheck

	priority := "High"
	updated, err := c.UpdateJob(ctx, job.ID, schemas.UpdateJobRequest{Priority: &priority})
	require.NoError(t, err)
	assert.Equal(t, "High", updated.Priority)

	arts, err := c.ListArtifacts(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, arts)
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")

	_, err := c.GetJob(context.Background(), "2f1ec9c4-4b8f-4d43-9a53-6a8f5e0d8f11")
	require.Error(t, err)
	assert.True(t, qerr.IsTransient(err))
}
