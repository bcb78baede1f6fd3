package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/qremote/pkg/qart"
	"github.com/quatton/qremote/pkg/qbus"
	"github.com/quatton/qremote/pkg/qjob"
	"github.com/quatton/qremote/pkg/qlog"
	"github.com/quatton/qremote/pkg/qmetrics"
	"github.com/quatton/qremote/pkg/qrunner"
	"github.com/quatton/qremote/pkg/qstore"
	"github.com/quatton/qremote/pkg/qtask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *qstore.MemoryStore
	pool     *qtask.Pool
	bus      *qbus.MemoryBus
	archive  *qart.MemoryStore
	runner   *TaskRunner
	service  *Service
	metrics  *qmetrics.Metrics
	executor *qrunner.Executor
}

// newHarness wires the service to a running pool that executes commands on
// this machine.
func newHarness(t *testing.T, opts ...RunnerOption) *harness {
	t.Helper()

	logger := qlog.NewDiscard().Logger
	h := &harness{
		store:   qstore.NewMemoryStore(),
		bus:     qbus.NewMemoryBus(),
		archive: qart.NewMemoryStore("jobs"),
		metrics: qmetrics.NewIsolated(),
	}
	h.pool = qtask.NewPool(qtask.NewMemoryBroker(nil),
		qtask.WithConcurrency(2),
		qtask.WithRevokePollInterval(20*time.Millisecond),
		qtask.WithRetryPolicy(qtask.RetryPolicy{MaxRetries: 1, Backoff: 10 * time.Millisecond}),
	)
	h.executor = qrunner.NewExecutor(qrunner.NewLocalTransport(qrunner.WithWorkingDir(t.TempDir())),
		qrunner.WithPollInterval(10*time.Millisecond))

	archiver := qart.NewArchiver(h.archive, time.Minute)
	opts = append([]RunnerOption{WithRunnerArchiver(archiver), WithRunnerMetrics(h.metrics)}, opts...)
	h.runner = NewTaskRunner(h.store, h.executor, h.bus, h.pool, logger, opts...)
	h.runner.Register(h.pool)
	h.service = NewService(h.store, h.pool, h.runner, logger, WithArchiver(archiver), WithMetrics(h.metrics))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pool.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		_ = h.bus.Close()
	})
	return h
}

func (h *harness) waitFor(t *testing.T, id uuid.UUID, cond func(*qjob.Job) bool) *qjob.Job {
	t.Helper()
	var job *qjob.Job
	require.Eventually(t, func() bool {
		j, err := h.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return cond(j)
	}, 10*time.Second, 10*time.Millisecond)
	return job
}

func (h *harness) waitStatus(t *testing.T, id uuid.UUID, status qjob.Status) *qjob.Job {
	t.Helper()
	return h.waitFor(t, id, func(j *qjob.Job) bool { return j.Status == status })
}

// fakeScheduler records submissions without running anything.
type fakeScheduler struct {
	mu        sync.Mutex
	submitted []*qtask.Task
	revoked   []string
	err       error
}

func (s *fakeScheduler) Submit(_ context.Context, name, id string, args map[string]string) (*qtask.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if id == "" {
		id = uuid.NewString()
	}
	t := &qtask.Task{ID: id, Name: name, Args: args, MaxRetries: 3}
	s.submitted = append(s.submitted, t)
	return t, nil
}

func (s *fakeScheduler) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = append(s.revoked, id)
	return nil
}

func (s *fakeScheduler) tasks(name string) []*qtask.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*qtask.Task
	for _, t := range s.submitted {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, qbus.Message) error { return nil }

// fakeExecutor lets a test script each execution.
type fakeExecutor struct {
	mu      sync.Mutex
	run     func(ctx context.Context, req qrunner.Request) (*qrunner.Result, error)
	kills   []string
	killErr error
}

func (e *fakeExecutor) Run(ctx context.Context, req qrunner.Request) (*qrunner.Result, error) {
	if e.run == nil {
		return nil, errors.New("no run scripted")
	}
	return e.run(ctx, req)
}

func (e *fakeExecutor) Stream(ctx context.Context, req qrunner.Request) (*qrunner.Result, error) {
	return e.Run(ctx, req)
}

func (e *fakeExecutor) Kill(_ context.Context, pid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kills = append(e.kills, pid)
	return e.killErr
}

func (e *fakeExecutor) killed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.kills...)
}

// newUnitRunner builds a runner over a scripted executor, for calling task
// handlers directly.
func newUnitRunner(exec *fakeExecutor, opts ...RunnerOption) (*TaskRunner, *qstore.MemoryStore, *fakeScheduler, *qbus.MemoryBus) {
	store := qstore.NewMemoryStore()
	sched := &fakeScheduler{}
	bus := qbus.NewMemoryBus()
	return NewTaskRunner(store, exec, bus, sched, qlog.NewDiscard().Logger, opts...), store, sched, bus
}

func seedJob(t *testing.T, store qjob.Store, command string) *qjob.Job {
	t.Helper()
	job := qjob.New(command, 5, "", nil)
	job.TaskID = uuid.NewString()
	created, err := store.Create(context.Background(), job)
	require.NoError(t, err)
	return created
}

func runTask(job *qjob.Job, name string, attempt int) *qtask.Task {
	return &qtask.Task{
		ID:         job.TaskID,
		Name:       name,
		Args:       map[string]string{"job_id": job.ID.String()},
		Attempt:    attempt,
		MaxRetries: 1,
	}
}
