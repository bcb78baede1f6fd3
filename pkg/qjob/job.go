// Package qjob holds the job domain model, its state machine and the storage
// contract the rest of the engine is written against.
package qjob

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a job
type Status string

const (
	StatusQueued    Status = "Queued"
	StatusRunning   Status = "Running"
	StatusSuccess   Status = "Success"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// Priority is stored for callers but has no scheduling effect.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

const DefaultTimeout = 60 // seconds

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Field names a mutable job column. Values match the storage column names.
type Field string

const (
	FieldCommand         Field = "command"
	FieldTimeout         Field = "timeout"
	FieldPriority        Field = "priority"
	FieldStatus          Field = "status"
	FieldParameters      Field = "parameters"
	FieldStdout          Field = "stdout"
	FieldStderr          Field = "stderr"
	FieldStartedAt       Field = "started_at"
	FieldCompletedAt     Field = "completed_at"
	FieldTaskID          Field = "task_id"
	FieldRemoteProcessID Field = "remote_process_id"
)

// MutableFields lists every field Update accepts.
var MutableFields = []Field{
	FieldCommand,
	FieldTimeout,
	FieldPriority,
	FieldStatus,
	FieldParameters,
	FieldStdout,
	FieldStderr,
	FieldStartedAt,
	FieldCompletedAt,
	FieldTaskID,
	FieldRemoteProcessID,
}

// Job is a single submitted command and its execution record.
type Job struct {
	ID              uuid.UUID
	Command         string
	Timeout         int
	Priority        Priority
	Status          Status
	Parameters      map[string]any
	Stdout          string
	Stderr          string
	CreatedAt       time.Time
	ModifiedAt      time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	TaskID          string
	RemoteProcessID string
}

// New returns a queued job with a fresh identifier and defaults applied.
func New(command string, timeout int, priority Priority, params map[string]any) *Job {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if priority == "" {
		priority = PriorityMedium
	}
	return &Job{
		ID:         uuid.New(),
		Command:    command,
		Timeout:    timeout,
		Priority:   priority,
		Status:     StatusQueued,
		Parameters: params,
	}
}

// TimeoutDuration converts the timeout in seconds to a time.Duration.
func (j *Job) TimeoutDuration() time.Duration {
	return time.Duration(j.Timeout) * time.Second
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Parameters = maps.Clone(j.Parameters)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ApplyFields copies the named fields from src into dst.
func ApplyFields(dst, src *Job, fields []Field) {
	for _, f := range fields {
		switch f {
		case FieldCommand:
			dst.Command = src.Command
		case FieldTimeout:
			dst.Timeout = src.Timeout
		case FieldPriority:
			dst.Priority = src.Priority
		case FieldStatus:
			dst.Status = src.Status
		case FieldParameters:
			dst.Parameters = maps.Clone(src.Parameters)
		case FieldStdout:
			dst.Stdout = src.Stdout
		case FieldStderr:
			dst.Stderr = src.Stderr
		case FieldStartedAt:
			dst.StartedAt = copyTime(src.StartedAt)
		case FieldCompletedAt:
			dst.CompletedAt = copyTime(src.CompletedAt)
		case FieldTaskID:
			dst.TaskID = src.TaskID
		case FieldRemoteProcessID:
			dst.RemoteProcessID = src.RemoteProcessID
		}
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// AppendStderr adds a line to the job's stderr, separated by a newline when
// stderr already has content.
func (j *Job) AppendStderr(msg string) {
	if j.Stderr == "" {
		j.Stderr = msg
		return
	}
	j.Stderr = j.Stderr + "\n" + msg
}
