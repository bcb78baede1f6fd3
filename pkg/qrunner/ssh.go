package qrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/quatton/qremote/pkg/qerr"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig holds the connection settings for the execution host.
type SSHConfig struct {
	Host           string
	Port           int
	Username       string
	KeyPath        string
	KnownHostsPath string // empty accepts any host key

	ConnectTimeout time.Duration
	DialAttempts   uint64
}

// SSHTransport dials a single host with a private key.
type SSHTransport struct {
	addr   string
	config *ssh.ClientConfig
	retry  func() backoff.BackOff
}

func NewSSHTransport(cfg SSHConfig) (*SSHTransport, error) {
	if cfg.Host == "" {
		return nil, errors.New("ssh host is required")
	}
	if cfg.Username == "" {
		return nil, errors.New("ssh username is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = 3
	}

	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	attempts := cfg.DialAttempts
	return &SSHTransport{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		config: &ssh.ClientConfig{
			User:            cfg.Username,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.ConnectTimeout,
		},
		retry: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxElapsedTime = 0
			return backoff.WithMaxRetries(bo, attempts-1)
		},
	}, nil
}

// Addr returns host:port.
func (t *SSHTransport) Addr() string {
	return t.addr
}

func (t *SSHTransport) Dial(ctx context.Context) (Conn, error) {
	var client *ssh.Client
	operation := func() error {
		c, err := t.dial(ctx)
		if err != nil {
			if isAuthError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		client = c
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(t.retry(), ctx)); err != nil {
		return nil, qerr.New(qerr.CodeConnectionFailure, fmt.Errorf("ssh dial %s: %w", t.addr, err))
	}
	return &sshConn{client: client}, nil
}

func (t *SSHTransport) dial(ctx context.Context) (*ssh.Client, error) {
	d := net.Dialer{Timeout: t.config.Timeout}
	nc, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	} else {
		_ = nc.SetDeadline(time.Now().Add(t.config.Timeout))
	}

	sc, chans, reqs, err := ssh.NewClientConn(nc, t.addr, t.config)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	_ = nc.SetDeadline(time.Time{})

	return ssh.NewClient(sc, chans, reqs), nil
}

func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "knownhosts:") ||
		strings.Contains(msg, "host key mismatch")
}

type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) Start(ctx context.Context, command string) (Process, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, qerr.New(qerr.CodeConnectionFailure, fmt.Errorf("failed to open session: %w", err))
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, qerr.New(qerr.CodeConnectionFailure, err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, qerr.New(qerr.CodeConnectionFailure, err)
	}

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, qerr.New(qerr.CodeConnectionFailure, fmt.Errorf("failed to start command: %w", err))
	}

	return &sshProcess{session: session, stdout: stdout, stderr: stderr}, nil
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

type sshProcess struct {
	session *ssh.Session
	stdout  io.Reader
	stderr  io.Reader
}

func (p *sshProcess) Stdout() io.Reader { return p.stdout }
func (p *sshProcess) Stderr() io.Reader { return p.stderr }

func (p *sshProcess) Wait() (int, error) {
	defer p.session.Close()

	err := p.session.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, qerr.New(qerr.CodeConnectionFailure, err)
}
