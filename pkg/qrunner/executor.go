package qrunner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/quatton/qremote/pkg/qerr"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	readChunkSize       = 1024
)

// Executor runs commands over a Transport. Every call opens its own
// connection and closes it before returning.
type Executor struct {
	transport    Transport
	pollInterval time.Duration
	logger       *slog.Logger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithPollInterval sets how often Stream checks for output, exit and timeout
func WithPollInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithLogger sets the executor logger
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

func NewExecutor(transport Transport, opts ...ExecutorOption) *Executor {
	e := &Executor{
		transport:    transport,
		pollInterval: DefaultPollInterval,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TimeoutNotice is the line published to stream listeners when a streamed
// command exceeds its timeout.
func TimeoutNotice(timeout time.Duration) string {
	return fmt.Sprintf("\n⏰ Command timed out after %d seconds\n", int(timeout.Seconds()))
}

// wrapCommand makes the remote shell print its pid on the first stdout line
// and then become the user's command, so the pid stays valid for kill.
func wrapCommand(command string) string {
	return "echo $$; exec /bin/sh -c " + shellescape.Quote(command)
}

func readPID(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}
	pid := strings.TrimSpace(line)
	if _, err := strconv.Atoi(pid); err != nil {
		return "", fmt.Errorf("unexpected pid line %q", line)
	}
	return pid, nil
}

func timeoutError(timeout time.Duration) error {
	return qerr.Newf(qerr.CodeExecutionTimeout, "command timed out after %d seconds", int(timeout.Seconds()))
}

// Run executes the command and captures its full output. The remote process
// is not killed on timeout; the connection is closed and the call returns
// qerr.CodeExecutionTimeout.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	conn, err := e.transport.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	proc, err := conn.Start(ctx, wrapCommand(req.Command))
	if err != nil {
		return nil, err
	}

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var stdout, stderr bytes.Buffer
		var wg sync.WaitGroup
		var stderrErr error

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, stderrErr = io.Copy(&stderr, proc.Stderr())
		}()

		br := bufio.NewReaderSize(proc.Stdout(), readChunkSize)
		pid, err := readPID(br)
		if err == nil {
			err = req.Hooks.start(pid)
		}
		if err != nil {
			done <- outcome{err: err}
			return
		}

		_, stdoutErr := io.Copy(&stdout, br)
		wg.Wait()

		code, err := proc.Wait()
		if err == nil {
			err = errors.Join(stdoutErr, stderrErr)
			if err != nil {
				err = qerr.New(qerr.CodeConnectionFailure, err)
			}
		}
		done <- outcome{
			result: &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: code},
			err:    err,
		}
	}()

	var timer <-chan time.Time
	if req.Timeout > 0 {
		t := time.NewTimer(req.Timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer:
		e.logger.Warn("command timed out", "timeout", req.Timeout)
		return nil, timeoutError(req.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type chunk struct {
	stream Stream
	data   string
	pid    *string
	err    error
}

type exit struct {
	code int
	err  error
}

// Stream executes the command and hands output to Hooks.OnOutput while it
// runs. A poll loop ticks every poll interval and, in order, checks the
// context, checks the deadline, drains available output and checks for exit.
func (e *Executor) Stream(ctx context.Context, req Request) (*Result, error) {
	conn, err := e.transport.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	proc, err := conn.Start(ctx, wrapCommand(req.Command))
	if err != nil {
		return nil, err
	}

	chunks := make(chan chunk, 64)
	exited := make(chan exit, 1)
	stop := make(chan struct{})
	defer close(stop)

	send := func(c chunk) bool {
		select {
		case chunks <- c:
			return true
		case <-stop:
			return false
		}
	}

	pump := func(stream Stream, r io.Reader) error {
		buf := make([]byte, readChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 && !send(chunk{stream: stream, data: string(buf[:n])}) {
				return nil
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}
	}

	var pumps sync.WaitGroup
	var pumpErr error
	var pumpErrMu sync.Mutex
	recordErr := func(err error) {
		if err == nil {
			return
		}
		pumpErrMu.Lock()
		pumpErr = errors.Join(pumpErr, err)
		pumpErrMu.Unlock()
	}

	pumps.Add(2)
	go func() {
		defer pumps.Done()
		br := bufio.NewReaderSize(proc.Stdout(), readChunkSize)
		pid, err := readPID(br)
		if err != nil {
			recordErr(err)
			return
		}
		if !send(chunk{pid: &pid}) {
			return
		}
		recordErr(pump(StreamStdout, br))
	}()
	go func() {
		defer pumps.Done()
		recordErr(pump(StreamStderr, proc.Stderr()))
	}()
	go func() {
		pumps.Wait()
		code, err := proc.Wait()
		if err == nil {
			pumpErrMu.Lock()
			if pumpErr != nil {
				err = qerr.New(qerr.CodeConnectionFailure, pumpErr)
			}
			pumpErrMu.Unlock()
		}
		exited <- exit{code: code, err: err}
	}()

	var stdout, stderr strings.Builder
	result := func(code int) *Result {
		return &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: code}
	}

	drain := func() error {
		for {
			select {
			case c := <-chunks:
				if c.pid != nil {
					if err := req.Hooks.start(*c.pid); err != nil {
						return err
					}
					continue
				}
				if c.stream == StreamStderr {
					stderr.WriteString(c.data)
				} else {
					stdout.WriteString(c.data)
				}
				req.Hooks.output(c.stream, c.data)
			default:
				return nil
			}
		}
	}

	var deadline time.Time
	if req.Timeout > 0 {
		deadline = time.Now().Add(req.Timeout)
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return result(-1), err
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			_ = conn.Close()
			notice := TimeoutNotice(req.Timeout)
			req.Hooks.output(StreamStderr, notice)
			e.logger.Warn("streamed command timed out", "timeout", req.Timeout)
			return result(-1), timeoutError(req.Timeout)
		}

		if err := drain(); err != nil {
			return result(-1), err
		}

		select {
		case ex := <-exited:
			// Pumps are done before exit is reported, so this drain is final.
			if err := drain(); err != nil {
				return result(-1), err
			}
			if ex.err != nil {
				return result(ex.code), ex.err
			}
			return result(ex.code), nil
		default:
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
	}
}

// Kill sends SIGKILL to pid on the execution host.
func (e *Executor) Kill(ctx context.Context, pid string) error {
	if _, err := strconv.Atoi(pid); err != nil {
		return qerr.Newf(qerr.CodeRemoteCommand, "invalid process id %q", pid)
	}

	conn, err := e.transport.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	proc, err := conn.Start(ctx, "kill -9 "+pid)
	if err != nil {
		return err
	}

	var stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderr, proc.Stderr())
	}()
	_, _ = io.Copy(io.Discard, proc.Stdout())
	wg.Wait()

	code, err := proc.Wait()
	if err != nil {
		return err
	}
	if code == 0 {
		return nil
	}

	msg := strings.TrimSpace(stderr.String())
	if strings.Contains(strings.ToLower(msg), "no such process") {
		return qerr.Newf(qerr.CodeNotFound, "process %s not found", pid)
	}
	if msg == "" {
		msg = fmt.Sprintf("kill exited with status %d", code)
	}
	return qerr.Newf(qerr.CodeRemoteCommand, "%s", msg)
}
