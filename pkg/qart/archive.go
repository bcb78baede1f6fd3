package qart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quatton/qremote/pkg/qjob"
)

// Archiver writes a finished job's output and record under JobPrefix.
type Archiver struct {
	store  Store
	expiry time.Duration
}

func NewArchiver(store Store, urlExpiry time.Duration) *Archiver {
	if urlExpiry <= 0 {
		urlExpiry = time.Hour
	}
	return &Archiver{store: store, expiry: urlExpiry}
}

// Archive uploads stdout.log, stderr.log and job.json for a terminal job.
func (a *Archiver) Archive(ctx context.Context, job *qjob.Job) ([]*Artifact, error) {
	id := job.ID.String()
	meta := map[string]string{"job_id": id, "status": string(job.Status)}

	record, err := json.MarshalIndent(jobRecord(job), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode job record: %w", err)
	}

	files := []struct {
		name        string
		body        string
		contentType string
	}{
		{"stdout.log", job.Stdout, "text/plain"},
		{"stderr.log", job.Stderr, "text/plain"},
		{"job.json", string(record), "application/json"},
	}

	var out []*Artifact
	var errs []error
	for _, f := range files {
		art, err := a.store.Upload(ctx, JobKey(id, f.name), strings.NewReader(f.body), int64(len(f.body)), f.contentType, meta)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to upload %s: %w", f.name, err))
			continue
		}
		out = append(out, art)
	}
	return out, errors.Join(errs...)
}

// List returns the archived files of a job with presigned download URLs.
func (a *Archiver) List(ctx context.Context, jobID string) ([]*Artifact, error) {
	arts, err := a.store.List(ctx, JobPrefix(jobID))
	if err != nil {
		return nil, err
	}
	for _, art := range arts {
		url, err := a.store.GetPresignedURL(ctx, art.Key, a.expiry)
		if err != nil {
			return nil, fmt.Errorf("failed to presign %s: %w", art.Key, err)
		}
		art.URL = url
	}
	return arts, nil
}

// Delete removes everything archived for a job.
func (a *Archiver) Delete(ctx context.Context, jobID string) error {
	return a.store.DeletePrefix(ctx, JobPrefix(jobID))
}

type record struct {
	ID          string         `json:"id"`
	Command     string         `json:"command"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority"`
	Timeout     int            `json:"timeout"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func jobRecord(j *qjob.Job) record {
	return record{
		ID:          j.ID.String(),
		Command:     j.Command,
		Status:      string(j.Status),
		Priority:    string(j.Priority),
		Timeout:     j.Timeout,
		Parameters:  j.Parameters,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
