// Package qrunner runs shell commands on a remote host, either capturing the
// output in one go or streaming it while the command runs.
package qrunner

import (
	"context"
	"io"
	"time"
)

// Stream names the output channel a chunk came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Transport opens connections to the execution host.
type Transport interface {
	// Dial opens a fresh connection. Fails with qerr.CodeConnectionFailure.
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one open connection. Closing it tears down anything it started.
type Conn interface {
	Start(ctx context.Context, command string) (Process, error)
	Close() error
}

// Process is a started command.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the command exits. Must only be called once both
	// output readers are drained. A non-zero exit is reported through the
	// code, not the error.
	Wait() (int, error)
}

// Result is the captured outcome of a command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Hooks let callers observe an execution while it runs.
type Hooks struct {
	// OnStart receives the remote process id before any output is surfaced.
	// Returning an error aborts the execution with that error.
	OnStart func(pid string) error

	// OnOutput receives streamed chunks in the order they were read.
	// Only called by Stream.
	OnOutput func(stream Stream, chunk string)
}

// Request describes one execution.
type Request struct {
	Command string
	Timeout time.Duration
	Hooks   Hooks
}

func (h Hooks) start(pid string) error {
	if h.OnStart == nil || pid == "" {
		return nil
	}
	return h.OnStart(pid)
}

func (h Hooks) output(stream Stream, chunk string) {
	if h.OnOutput != nil {
		h.OnOutput(stream, chunk)
	}
}
