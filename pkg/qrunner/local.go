package qrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/quatton/qremote/pkg/qerr"
)

// LocalTransport runs commands on this machine through /bin/sh. Used in
// development and in tests in place of a real remote host.
type LocalTransport struct {
	shell      string
	workingDir string
	env        map[string]string
}

// LocalTransportOption configures a LocalTransport
type LocalTransportOption func(*LocalTransport)

// WithWorkingDir sets the directory commands start in
func WithWorkingDir(dir string) LocalTransportOption {
	return func(t *LocalTransport) {
		t.workingDir = dir
	}
}

// WithEnv adds environment variables on top of the current environment
func WithEnv(env map[string]string) LocalTransportOption {
	return func(t *LocalTransport) {
		t.env = env
	}
}

// WithShell overrides the shell binary, /bin/sh by default
func WithShell(shell string) LocalTransportOption {
	return func(t *LocalTransport) {
		t.shell = shell
	}
}

func NewLocalTransport(opts ...LocalTransportOption) *LocalTransport {
	cwd, _ := os.Getwd()
	t := &LocalTransport{
		shell:      "/bin/sh",
		workingDir: cwd,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *LocalTransport) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr.New(qerr.CodeConnectionFailure, err)
	}
	return &localConn{transport: t}, nil
}

type localConn struct {
	transport *LocalTransport

	mu     sync.Mutex
	procs  []*exec.Cmd
	closed bool
}

func (c *localConn) Start(ctx context.Context, command string) (Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, qerr.Newf(qerr.CodeConnectionFailure, "connection closed")
	}

	cmd := exec.Command(c.transport.shell, "-c", command)
	cmd.Dir = c.transport.workingDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range c.transport.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, qerr.New(qerr.CodeConnectionFailure, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, qerr.New(qerr.CodeConnectionFailure, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, qerr.New(qerr.CodeConnectionFailure, fmt.Errorf("failed to start command: %w", err))
	}

	c.procs = append(c.procs, cmd)
	return &localProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// Close kills whatever this connection started and is still running, the
// same way a dropped session takes its channel down with it.
func (c *localConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	for _, cmd := range c.procs {
		// Negative pid targets the whole process group.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return nil
}

type localProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *localProcess) Stdout() io.Reader { return p.stdout }
func (p *localProcess) Stderr() io.Reader { return p.stderr }

func (p *localProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		// Killed by a signal.
		return -1, nil
	}
	return -1, qerr.New(qerr.CodeConnectionFailure, err)
}
