package schemas

import (
	"time"

	"github.com/quatton/qremote/pkg/qart"
	"github.com/quatton/qremote/pkg/qjob"
)

// CreateJobRequest represents a request to submit a job
type CreateJobRequest struct {
	Command    string         `json:"command" minLength:"1" doc:"Shell command to run on the remote host"`
	Timeout    int            `json:"timeout,omitempty" minimum:"1" maximum:"3600" default:"60" doc:"Timeout in seconds"`
	Priority   string         `json:"priority,omitempty" enum:"Low,Medium,High" default:"Medium" doc:"Informational priority"`
	Parameters map[string]any `json:"parameters,omitempty" doc:"Opaque parameters stored with the job"`
	Streaming  bool           `json:"streaming,omitempty" doc:"Publish output live on the job's websocket"`
}

// UpdateJobRequest carries a partial update; omitted fields are left alone
type UpdateJobRequest struct {
	Command    *string        `json:"command,omitempty" doc:"New command, only while Queued"`
	Timeout    *int           `json:"timeout,omitempty" minimum:"1" maximum:"3600" doc:"Timeout in seconds"`
	Priority   *string        `json:"priority,omitempty" enum:"Low,Medium,High" doc:"Informational priority"`
	Parameters map[string]any `json:"parameters,omitempty" doc:"Replaces the stored parameters"`
}

// JobResponse is the public view of a job
type JobResponse struct {
	ID              string         `json:"id" doc:"Job ID"`
	Command         string         `json:"command" doc:"Command"`
	Timeout         int            `json:"timeout" doc:"Timeout in seconds"`
	Priority        string         `json:"priority" doc:"Priority"`
	Status          string         `json:"status" doc:"Job status"`
	Parameters      map[string]any `json:"parameters,omitempty" doc:"Opaque parameters"`
	Stdout          string         `json:"stdout" doc:"Captured standard output"`
	Stderr          string         `json:"stderr" doc:"Captured standard error"`
	CreatedAt       time.Time      `json:"created_at" doc:"Creation timestamp"`
	ModifiedAt      time.Time      `json:"modified_at" doc:"Last modification timestamp"`
	StartedAt       *time.Time     `json:"started_at,omitempty" doc:"Start timestamp"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" doc:"Completion timestamp"`
	TaskID          string         `json:"task_id,omitempty" doc:"Scheduled task ID"`
	RemoteProcessID string         `json:"remote_process_id,omitempty" doc:"Remote process ID while running"`
}

// JobListResponse is one page of jobs
type JobListResponse struct {
	Jobs       []JobResponse `json:"jobs" doc:"Jobs, newest first"`
	TotalCount int           `json:"total_count" doc:"Number of jobs in the store"`
}

// ArtifactResponse describes one archived output file
type ArtifactResponse struct {
	Key          string    `json:"key" doc:"Object key"`
	Size         int64     `json:"size" doc:"Size in bytes"`
	ContentType  string    `json:"content_type" doc:"MIME type"`
	LastModified time.Time `json:"last_modified" doc:"Upload timestamp"`
	URL          string    `json:"url,omitempty" doc:"Presigned download URL"`
}

func NewJobResponse(j *qjob.Job) JobResponse {
	return JobResponse{
		ID:              j.ID.String(),
		Command:         j.Command,
		Timeout:         j.Timeout,
		Priority:        string(j.Priority),
		Status:          string(j.Status),
		Parameters:      j.Parameters,
		Stdout:          j.Stdout,
		Stderr:          j.Stderr,
		CreatedAt:       j.CreatedAt,
		ModifiedAt:      j.ModifiedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		TaskID:          j.TaskID,
		RemoteProcessID: j.RemoteProcessID,
	}
}

func NewArtifactResponse(a *qart.Artifact) ArtifactResponse {
	return ArtifactResponse{
		Key:          a.Key,
		Size:         a.Size,
		ContentType:  a.ContentType,
		LastModified: a.LastModified,
		URL:          a.URL,
	}
}
