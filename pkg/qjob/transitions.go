package qjob

import (
	"time"

	"github.com/quatton/qremote/pkg/qerr"
)

var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusSuccess, StatusFailed, StatusCancelled},
}

// IsTerminal reports whether no further transitions are possible from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the job to status `to` and returns the fields it touched.
// started_at is set the first time the job runs, completed_at the first time
// it reaches a terminal status, and the remote process id is dropped once the
// job is terminal.
func (j *Job) Transition(to Status, now time.Time) ([]Field, error) {
	if !CanTransition(j.Status, to) {
		if to == StatusCancelled {
			return nil, qerr.Newf(qerr.CodeCannotCancel, "job with status '%s' cannot be cancelled", j.Status)
		}
		return nil, qerr.Newf(qerr.CodeInvalidUpdate, "job cannot move from '%s' to '%s'", j.Status, to)
	}

	j.Status = to
	fields := []Field{FieldStatus}

	if to == StatusRunning && j.StartedAt == nil {
		t := now
		j.StartedAt = &t
		fields = append(fields, FieldStartedAt)
	}

	if to.IsTerminal() {
		if j.CompletedAt == nil {
			t := now
			j.CompletedAt = &t
			fields = append(fields, FieldCompletedAt)
		}
		if j.RemoteProcessID != "" {
			j.RemoteProcessID = ""
			fields = append(fields, FieldRemoteProcessID)
		}
	}

	return fields, nil
}
