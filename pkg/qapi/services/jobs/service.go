package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/qremote/pkg/qart"
	"github.com/quatton/qremote/pkg/qerr"
	"github.com/quatton/qremote/pkg/qjob"
	"github.com/quatton/qremote/pkg/qmetrics"
	"github.com/quatton/qremote/pkg/qtask"
)

const (
	TaskRunJob          = "run_job"
	TaskRunJobStreaming = "run_job_streaming"
	TaskCancelJob       = "cancel_job"

	MinTimeout = 1
	MaxTimeout = 3600
)

// Scheduler hands work to the background pool.
type Scheduler interface {
	Submit(ctx context.Context, name, id string, args map[string]string) (*qtask.Task, error)
	Revoke(ctx context.Context, id string) error
}

// Service implements the job use cases behind the HTTP API.
type Service struct {
	store     qjob.Store
	scheduler Scheduler
	runner    *TaskRunner
	archiver  *qart.Archiver
	metrics   *qmetrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

type ServiceOption func(*Service)

// WithArchiver enables output archiving lookups and cleanup on delete.
func WithArchiver(a *qart.Archiver) ServiceOption {
	return func(s *Service) {
		s.archiver = a
	}
}

func WithMetrics(m *qmetrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(store qjob.Store, scheduler Scheduler, runner *TaskRunner, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		scheduler: scheduler,
		runner:    runner,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateRequest struct {
	Command    string
	Timeout    int
	Priority   qjob.Priority
	Parameters map[string]any
	Streaming  bool
}

// UpdateRequest carries a partial update. Nil fields are left alone.
type UpdateRequest struct {
	Command    *string
	Timeout    *int
	Priority   *qjob.Priority
	Parameters map[string]any
}

type ListResult struct {
	Jobs       []*qjob.Job
	TotalCount int
}

func validTimeout(t int) error {
	if t < MinTimeout || t > MaxTimeout {
		return qerr.Newf(qerr.CodeInvalidArgument, "timeout must be between %d and %d seconds", MinTimeout, MaxTimeout)
	}
	return nil
}

// Create stores a queued job and schedules its execution. A scheduling
// failure is logged and leaves the job queued.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*qjob.Job, error) {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return nil, qerr.Newf(qerr.CodeInvalidArgument, "command is required")
	}
	if req.Timeout != 0 {
		if err := validTimeout(req.Timeout); err != nil {
			return nil, err
		}
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, qerr.Newf(qerr.CodeInvalidArgument, "unknown priority %q", req.Priority)
	}

	job := qjob.New(command, req.Timeout, req.Priority, req.Parameters)
	job.TaskID = uuid.NewString()

	created, err := s.store.Create(ctx, job)
	if err != nil {
		return nil, err
	}

	name, mode := TaskRunJob, "sync"
	if req.Streaming {
		name, mode = TaskRunJobStreaming, "stream"
	}
	if s.metrics != nil {
		s.metrics.JobsSubmitted.WithLabelValues(mode).Inc()
	}

	if _, err := s.scheduler.Submit(ctx, name, created.TaskID, map[string]string{"job_id": created.ID.String()}); err != nil {
		s.logger.Error("failed to schedule job", "job_id", created.ID, "error", err)
	}

	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*qjob.Job, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) (*ListResult, error) {
	jobs, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &ListResult{Jobs: jobs, TotalCount: total}, nil
}

// Update applies a partial client update. Terminal jobs are immutable and
// the command can only change while queued. Status is not client-writable:
// the task runner owns Running, Success and Failed, and Cancel owns
// Cancelled.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*qjob.Job, error) {
	return qjob.Mutate(ctx, s.store, id, func(job *qjob.Job) ([]qjob.Field, error) {
		if job.Status.IsTerminal() {
			return nil, qerr.Newf(qerr.CodeInvalidUpdate, "job with status '%s' cannot be updated", job.Status)
		}

		var fields []qjob.Field
		if req.Command != nil {
			if job.Status != qjob.StatusQueued {
				return nil, qerr.Newf(qerr.CodeInvalidUpdate, "command can only be changed while the job is queued")
			}
			command := strings.TrimSpace(*req.Command)
			if command == "" {
				return nil, qerr.Newf(qerr.CodeInvalidArgument, "command is required")
			}
			job.Command = command
			fields = append(fields, qjob.FieldCommand)
		}
		if req.Timeout != nil {
			if err := validTimeout(*req.Timeout); err != nil {
				return nil, err
			}
			job.Timeout = *req.Timeout
			fields = append(fields, qjob.FieldTimeout)
		}
		if req.Priority != nil {
			if !req.Priority.Valid() {
				return nil, qerr.Newf(qerr.CodeInvalidArgument, "unknown priority %q", *req.Priority)
			}
			job.Priority = *req.Priority
			fields = append(fields, qjob.FieldPriority)
		}
		if req.Parameters != nil {
			job.Parameters = req.Parameters
			fields = append(fields, qjob.FieldParameters)
		}
		return fields, nil
	})
}

// Delete removes the job record and any archived output.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if s.archiver != nil {
		if err := s.archiver.Delete(ctx, id.String()); err != nil {
			s.logger.Warn("failed to delete archived output", "job_id", id, "error", err)
		}
	}
	return nil
}

// Cancel marks the job Cancelled and schedules the cleanup unit that revokes
// its task and kills its remote process. Cancelling a terminal job fails
// with qerr.CodeCannotCancel and changes nothing.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*qjob.Job, error) {
	var taskID, pid string
	job, err := qjob.Mutate(ctx, s.store, id, func(job *qjob.Job) ([]qjob.Field, error) {
		taskID, pid = job.TaskID, job.RemoteProcessID
		return job.Transition(qjob.StatusCancelled, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	args := map[string]string{
		"job_id":  id.String(),
		"task_id": taskID,
		"pid":     pid,
	}
	if _, err := s.scheduler.Submit(ctx, TaskCancelJob, "", args); err != nil {
		s.logger.Warn("failed to schedule cancel cleanup, running inline", "job_id", id, "error", err)
		if err := s.runner.Cancel(ctx, id, taskID, pid); err != nil {
			s.logger.Error("cancel cleanup failed", "job_id", id, "error", err)
		}
		return s.store.Get(ctx, id)
	}

	return job, nil
}

// Artifacts lists the archived output of a job.
func (s *Service) Artifacts(ctx context.Context, id uuid.UUID) ([]*qart.Artifact, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.archiver == nil {
		return []*qart.Artifact{}, nil
	}
	arts, err := s.archiver.List(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	return arts, nil
}
