package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/qremote/pkg/qart"
	"github.com/quatton/qremote/pkg/qbus"
	"github.com/quatton/qremote/pkg/qerr"
	"github.com/quatton/qremote/pkg/qjob"
	"github.com/quatton/qremote/pkg/qmetrics"
	"github.com/quatton/qremote/pkg/qrunner"
	"github.com/quatton/qremote/pkg/qtask"
)

const killTimeout = 30 * time.Second

// Executor is the remote execution surface the runner needs.
type Executor interface {
	Run(ctx context.Context, req qrunner.Request) (*qrunner.Result, error)
	Stream(ctx context.Context, req qrunner.Request) (*qrunner.Result, error)
	Kill(ctx context.Context, pid string) error
}

// Revoker cancels scheduled or running tasks.
type Revoker interface {
	Revoke(ctx context.Context, id string) error
}

// TaskRunner binds job records to executions. It owns the run_job,
// run_job_streaming and cancel_job task handlers.
type TaskRunner struct {
	store           qjob.Store
	executor        Executor
	bus             qbus.Publisher
	revoker         Revoker
	archiver        *qart.Archiver
	metrics         *qmetrics.Metrics
	logger          *slog.Logger
	stderrIsFailure bool
	now             func() time.Time
}

type RunnerOption func(*TaskRunner)

// WithStderrIsFailure controls whether output on stderr alone fails a job
// that exited with status 0.
func WithStderrIsFailure(v bool) RunnerOption {
	return func(r *TaskRunner) {
		r.stderrIsFailure = v
	}
}

func WithRunnerArchiver(a *qart.Archiver) RunnerOption {
	return func(r *TaskRunner) {
		r.archiver = a
	}
}

func WithRunnerMetrics(m *qmetrics.Metrics) RunnerOption {
	return func(r *TaskRunner) {
		r.metrics = m
	}
}

func NewTaskRunner(store qjob.Store, executor Executor, bus qbus.Publisher, revoker Revoker, logger *slog.Logger, opts ...RunnerOption) *TaskRunner {
	r := &TaskRunner{
		store:           store,
		executor:        executor,
		bus:             bus,
		revoker:         revoker,
		logger:          logger,
		stderrIsFailure: true,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs the task handlers on the pool.
func (r *TaskRunner) Register(p *qtask.Pool) {
	p.Register(TaskRunJob, r.RunJob)
	p.Register(TaskRunJobStreaming, r.RunJobStreaming)
	p.Register(TaskCancelJob, r.CancelJob)
	p.OnAbandon(r.Abandon)
}

func (r *TaskRunner) RunJob(ctx context.Context, t *qtask.Task) error {
	return r.run(ctx, t, false)
}

func (r *TaskRunner) RunJobStreaming(ctx context.Context, t *qtask.Task) error {
	return r.run(ctx, t, true)
}

// errAborted stops an execution whose job stopped belonging to this task
// before the remote process was recorded.
var errAborted = errors.New("job no longer owned by this task")

var errWorkerShutdown = errors.New("worker shut down before the job finished")

func modeOf(t *qtask.Task) string {
	if t.Name == TaskRunJobStreaming {
		return "stream"
	}
	return "sync"
}

func jobID(t *qtask.Task) (uuid.UUID, error) {
	id, err := uuid.Parse(t.Args["job_id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("task %s has invalid job_id %q: %w", t.ID, t.Args["job_id"], err)
	}
	return id, nil
}

func (r *TaskRunner) run(ctx context.Context, t *qtask.Task, streaming bool) error {
	id, err := jobID(t)
	if err != nil {
		return err
	}
	logger := r.logger.With("job_id", id, "task", t.String())

	job, err := r.acquire(ctx, id, t)
	if err != nil {
		switch qerr.CodeOf(err) {
		case qerr.CodeNotFound:
			logger.Warn("job vanished before execution")
			return nil
		case qerr.CodeAlreadyRunning:
			logger.Warn("job is already running under another task")
			return nil
		}
		return err
	}
	if job == nil {
		logger.Info("job already finished, skipping")
		return nil
	}

	mode := "sync"
	if streaming {
		mode = "stream"
	}
	if r.metrics != nil {
		r.metrics.JobsRunning.Inc()
		defer r.metrics.JobsRunning.Dec()
	}

	var startedPID string
	topic := qbus.JobTopic(id.String())
	req := qrunner.Request{
		Command: job.Command,
		Timeout: job.TimeoutDuration(),
		Hooks: qrunner.Hooks{
			OnStart: func(pid string) error {
				startedPID = pid
				return r.recordPID(ctx, id, t.ID, pid)
			},
			OnOutput: func(stream qrunner.Stream, chunk string) {
				if err := r.bus.Publish(ctx, topic, qbus.Message{Stream: string(stream), Log: chunk}); err != nil {
					logger.Warn("failed to publish output", "error", err)
				}
			},
		},
	}

	logger.Info("executing job", "mode", mode, "timeout", req.Timeout)
	start := r.now()

	var res *qrunner.Result
	if streaming {
		res, err = r.executor.Stream(ctx, req)
	} else {
		res, err = r.executor.Run(ctx, req)
	}

	if errors.Is(err, errAborted) {
		logger.Info("job was cancelled as it started, killing remote process", "pid", startedPID)
		r.kill(ctx, startedPID, logger)
		return nil
	}
	if ctx.Err() != nil {
		// A revoked job is already Cancelled and no longer ours; only a
		// shutdown leaves it Running.
		r.Abandon(ctx, t, errWorkerShutdown)
		return ctx.Err()
	}

	final, retry, err := r.finalize(ctx, id, t, res, err)
	if err != nil {
		return err
	}
	if retry != nil {
		logger.Warn("transient failure, scheduling retry", "error", retry)
		return qtask.Retry(retry)
	}
	if final == nil {
		logger.Info("job was finalized elsewhere, result discarded")
		return nil
	}

	logger.Info("job finished", "status", final.Status)
	r.finish(ctx, final, mode, r.now().Sub(start))
	return nil
}

// acquire takes ownership of the job for task t. It returns nil, nil when the
// job is already terminal.
func (r *TaskRunner) acquire(ctx context.Context, id uuid.UUID, t *qtask.Task) (*qjob.Job, error) {
	var skip bool
	job, err := qjob.Mutate(ctx, r.store, id, func(job *qjob.Job) ([]qjob.Field, error) {
		switch {
		case job.Status.IsTerminal():
			skip = true
			return nil, nil

		case job.Status == qjob.StatusQueued:
			job.TaskID = t.ID
			job.Stdout, job.Stderr = "", ""
			fields, err := job.Transition(qjob.StatusRunning, r.now().UTC())
			if err != nil {
				return nil, err
			}
			return append(fields, qjob.FieldTaskID, qjob.FieldStdout, qjob.FieldStderr), nil

		case job.TaskID == t.ID && t.Attempt > 0:
			// Retry of our own attempt: the job stayed Running in between.
			job.Stdout, job.Stderr, job.RemoteProcessID = "", "", ""
			return []qjob.Field{qjob.FieldStdout, qjob.FieldStderr, qjob.FieldRemoteProcessID}, nil

		default:
			return nil, qerr.Newf(qerr.CodeAlreadyRunning, "job %s is already running", id)
		}
	})
	if err != nil {
		return nil, err
	}
	if skip {
		return nil, nil
	}
	return job, nil
}

func (r *TaskRunner) recordPID(ctx context.Context, id uuid.UUID, taskID, pid string) error {
	_, err := qjob.Mutate(ctx, r.store, id, func(job *qjob.Job) ([]qjob.Field, error) {
		if job.Status != qjob.StatusRunning || job.TaskID != taskID {
			return nil, errAborted
		}
		job.RemoteProcessID = pid
		return []qjob.Field{qjob.FieldRemoteProcessID}, nil
	})
	if qerr.IsCode(err, qerr.CodeNotFound) {
		return errAborted
	}
	return err
}

// finalize writes the execution outcome. It returns the stored job when it
// reached a terminal status, or the error to retry on when the failure is
// transient and the task has budget left. A job that no longer belongs to
// the task is left untouched.
func (r *TaskRunner) finalize(ctx context.Context, id uuid.UUID, t *qtask.Task, res *qrunner.Result, execErr error) (*qjob.Job, error, error) {
	var retry error
	var owned bool

	job, err := qjob.Mutate(ctx, r.store, id, func(job *qjob.Job) ([]qjob.Field, error) {
		if job.Status != qjob.StatusRunning || job.TaskID != t.ID {
			return nil, nil
		}
		owned = true

		if execErr != nil && qerr.IsTransient(execErr) && t.CanRetry() {
			retry = execErr
			job.Stderr = qerr.Message(execErr)
			job.RemoteProcessID = ""
			return []qjob.Field{qjob.FieldStderr, qjob.FieldRemoteProcessID}, nil
		}

		fields := []qjob.Field{qjob.FieldStdout, qjob.FieldStderr}
		to := qjob.StatusSuccess

		if res != nil {
			job.Stdout, job.Stderr = res.Stdout, res.Stderr
		}

		switch {
		case execErr != nil:
			to = qjob.StatusFailed
			job.AppendStderr(qerr.Message(execErr))
		case res.ExitCode != 0:
			to = qjob.StatusFailed
			if strings.TrimSpace(job.Stderr) == "" {
				job.Stderr = fmt.Sprintf("remote command exited with status %d", res.ExitCode)
			}
		case r.stderrIsFailure && strings.TrimSpace(job.Stderr) != "":
			to = qjob.StatusFailed
		}

		changed, err := job.Transition(to, r.now().UTC())
		if err != nil {
			return nil, err
		}
		return append(fields, changed...), nil
	})
	if err != nil {
		if qerr.IsCode(err, qerr.CodeNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	if !owned || retry != nil {
		return nil, retry, nil
	}
	return job, nil, nil
}

// Abandon fails a job that task t still owns but can no longer see through,
// and kills its remote process. Jobs owned elsewhere or already terminal are
// left alone.
func (r *TaskRunner) Abandon(ctx context.Context, t *qtask.Task, cause error) {
	id, err := jobID(t)
	if err != nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	logger := r.logger.With("job_id", id, "task", t.String())

	var owned bool
	var pid string
	job, err := qjob.Mutate(ctx, r.store, id, func(job *qjob.Job) ([]qjob.Field, error) {
		if job.Status != qjob.StatusRunning || job.TaskID != t.ID {
			return nil, nil
		}
		owned = true
		pid = job.RemoteProcessID
		job.AppendStderr(qerr.Message(cause))
		changed, err := job.Transition(qjob.StatusFailed, r.now().UTC())
		if err != nil {
			return nil, err
		}
		return append([]qjob.Field{qjob.FieldStderr}, changed...), nil
	})
	if err != nil {
		if !qerr.IsCode(err, qerr.CodeNotFound) {
			logger.Error("failed to release abandoned job", "error", err)
		}
		return
	}
	if !owned {
		return
	}

	logger.Warn("job abandoned", "cause", cause)
	r.kill(ctx, pid, logger)

	var elapsed time.Duration
	if job.StartedAt != nil {
		elapsed = r.now().Sub(*job.StartedAt)
	}
	r.finish(ctx, job, modeOf(t), elapsed)
}

// finish runs the after-effects of a terminal job: status frame, archive and
// metrics. None of them can fail the job.
func (r *TaskRunner) finish(ctx context.Context, job *qjob.Job, mode string, elapsed time.Duration) {
	topic := qbus.JobTopic(job.ID.String())
	if err := r.bus.Publish(ctx, topic, qbus.Message{Status: string(job.Status)}); err != nil {
		r.logger.Warn("failed to publish status", "job_id", job.ID, "error", err)
	}

	if r.archiver != nil {
		if _, err := r.archiver.Archive(ctx, job); err != nil {
			r.logger.Warn("failed to archive job output", "job_id", job.ID, "error", err)
		}
	}

	r.metrics.ObserveJob(mode, string(job.Status), elapsed)
}

func (r *TaskRunner) kill(ctx context.Context, pid string, logger *slog.Logger) error {
	if pid == "" {
		return nil
	}
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), killTimeout)
	defer cancel()

	err := r.executor.Kill(killCtx, pid)
	switch {
	case err == nil:
		logger.Info("killed remote process", "pid", pid)
		return nil
	case qerr.IsCode(err, qerr.CodeNotFound):
		logger.Info("remote process already gone", "pid", pid)
		return nil
	default:
		logger.Warn("failed to kill remote process", "pid", pid, "error", err)
		if r.metrics != nil {
			r.metrics.KillFailures.Inc()
		}
		return err
	}
}

// CancelJob is the cancel_job task handler.
func (r *TaskRunner) CancelJob(ctx context.Context, t *qtask.Task) error {
	id, err := jobID(t)
	if err != nil {
		return err
	}
	return r.Cancel(ctx, id, t.Args["task_id"], t.Args["pid"])
}

// Cancel revokes the job's task, kills its remote process and makes sure the
// record ends Cancelled with completed_at set. A failed kill is appended to
// stderr and never blocks the outcome.
func (r *TaskRunner) Cancel(ctx context.Context, id uuid.UUID, taskID, pid string) error {
	logger := r.logger.With("job_id", id)

	if taskID != "" {
		if err := r.revoker.Revoke(ctx, taskID); err != nil {
			logger.Warn("failed to revoke task", "task_id", taskID, "error", err)
		}
	}

	killErr := r.kill(ctx, pid, logger)

	job, err := qjob.Mutate(ctx, r.store, id, func(job *qjob.Job) ([]qjob.Field, error) {
		var fields []qjob.Field
		if job.Status != qjob.StatusCancelled {
			changed, err := job.Transition(qjob.StatusCancelled, r.now().UTC())
			if err != nil {
				return nil, err
			}
			fields = append(fields, changed...)
		}
		if job.CompletedAt == nil {
			now := r.now().UTC()
			job.CompletedAt = &now
			fields = append(fields, qjob.FieldCompletedAt)
		}
		if killErr != nil {
			job.AppendStderr("Failed to kill remote process: " + qerr.Message(killErr))
			fields = append(fields, qjob.FieldStderr)
		}
		return fields, nil
	})
	if err != nil {
		switch qerr.CodeOf(err) {
		case qerr.CodeNotFound:
			logger.Info("job deleted before cancel cleanup")
			return nil
		case qerr.CodeCannotCancel:
			logger.Info("job finished before cancel cleanup", "error", err)
			return nil
		}
		return err
	}

	if err := r.bus.Publish(ctx, qbus.JobTopic(id.String()), qbus.Message{Status: string(job.Status)}); err != nil {
		logger.Warn("failed to publish status", "error", err)
	}
	if r.archiver != nil {
		if _, err := r.archiver.Archive(ctx, job); err != nil {
			logger.Warn("failed to archive job output", "error", err)
		}
	}
	if r.metrics != nil {
		r.metrics.JobsFinished.WithLabelValues(string(job.Status)).Inc()
	}
	return nil
}
