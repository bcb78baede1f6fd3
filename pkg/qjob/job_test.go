package qjob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	job := New("uptime", 0, "", map[string]any{"k": "v"})

	assert.NotEqual(t, [16]byte{}, [16]byte(job.ID))
	assert.Equal(t, DefaultTimeout, job.Timeout)
	assert.Equal(t, PriorityMedium, job.Priority)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 60*time.Second, job.TimeoutDuration())
}

func TestNew_UniqueIDs(t *testing.T) {
	a := New("a", 1, PriorityLow, nil)
	b := New("a", 1, PriorityLow, nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestClone_Independent(t *testing.T) {
	now := time.Now()
	job := New("ls", 10, PriorityLow, map[string]any{"dir": "/tmp"})
	job.StartedAt = &now

	c := job.Clone()
	c.Parameters["dir"] = "/var"
	*c.StartedAt = now.Add(time.Hour)

	assert.Equal(t, "/tmp", job.Parameters["dir"])
	assert.Equal(t, now, *job.StartedAt)
}

func TestApplyFields_OnlyNamed(t *testing.T) {
	dst := New("old", 10, PriorityLow, nil)
	src := dst.Clone()
	src.Command = "new"
	src.Stdout = "out"
	src.Stderr = "err"

	ApplyFields(dst, src, []Field{FieldStdout})

	assert.Equal(t, "old", dst.Command)
	assert.Equal(t, "out", dst.Stdout)
	assert.Empty(t, dst.Stderr)
}

func TestAppendStderr(t *testing.T) {
	job := &Job{}
	job.AppendStderr("first")
	job.AppendStderr("second")
	assert.Equal(t, "first\nsecond", job.Stderr)
}
