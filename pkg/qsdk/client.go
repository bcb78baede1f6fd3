package qsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/quatton/qremote/pkg/qapi/schemas"
	"github.com/quatton/qremote/pkg/qbus"
	"github.com/quatton/qremote/pkg/qerr"
	"github.com/quatton/qremote/pkg/qjob"
)

// Client talks to a qremote server over its JSON API and log websocket.
type Client struct {
	BaseURL string

	http   *http.Client
	dialer *websocket.Dialer
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithDialer replaces the websocket dialer used by StreamLogs.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a client for cfg.APIURL honoring cfg.Timeout.
func NewClientFromConfig(cfg *Config) *Client {
	return NewClient(cfg.APIURL, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
}

// HealthResponse mirrors GET /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (c *Client) CreateJob(ctx context.Context, req schemas.CreateJobRequest) (*schemas.JobResponse, error) {
	var out schemas.JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (*schemas.JobResponse, error) {
	var out schemas.JobResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListJobs(ctx context.Context, limit, offset int) (*schemas.JobListResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out schemas.JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateJob(ctx context.Context, id string, req schemas.UpdateJobRequest) (*schemas.JobResponse, error) {
	var out schemas.JobResponse
	if err := c.do(ctx, http.MethodPatch, "/api/jobs/"+url.PathEscape(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil)
}

func (c *Client) CancelJob(ctx context.Context, id string) (*schemas.JobResponse, error) {
	var out schemas.JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListArtifacts(ctx context.Context, id string) ([]schemas.ArtifactResponse, error) {
	var out struct {
		Artifacts []schemas.ArtifactResponse `json:"artifacts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/artifacts", nil, &out); err != nil {
		return nil, err
	}
	return out.Artifacts, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitJob polls until the job reaches a terminal status, backing off from
// interval up to ten times that between polls.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration) (*schemas.JobResponse, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.MaxInterval = 10 * interval
	bo.MaxElapsedTime = 0

	var job *schemas.JobResponse
	operation := func() error {
		j, err := c.GetJob(ctx, id)
		if err != nil {
			if qerr.IsCode(err, qerr.CodeNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		job = j
		if !qjob.Status(j.Status).IsTerminal() {
			return errNotFinished
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return job, err
	}
	return job, nil
}

var errNotFinished = errors.New("job not finished")

// StreamLogs follows the job's websocket and calls fn for every frame until
// the status frame arrives, the server closes, or ctx ends. It returns the
// final status, empty when the stream ended without one.
func (c *Client) StreamLogs(ctx context.Context, id string, fn func(qbus.Message) error) (string, error) {
	wsURL, err := c.wsURL("/ws/jobs/" + url.PathEscape(id))
	if err != nil {
		return "", err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return "", decodeError(resp)
		}
		return "", qerr.New(qerr.CodeConnectionFailure, fmt.Errorf("dial %s: %w", wsURL, err))
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var msg qbus.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "", nil
			}
			return "", qerr.New(qerr.CodeConnectionFailure, fmt.Errorf("read log frame: %w", err))
		}
		if err := fn(msg); err != nil {
			return "", err
		}
		if msg.IsFinal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return msg.Status, nil
		}
	}
}

func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid api url %q: %w", c.BaseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return qerr.New(qerr.CodeConnectionFailure, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorBody covers both the job error body and huma's validation problem.
type errorBody struct {
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message  string `json:"message"`
		Location string `json:"location"`
	} `json:"errors"`
}

var codesByAPICode = map[string]qerr.Code{
	schemas.CodeJobAlreadyExists:  qerr.CodeAlreadyExists,
	schemas.CodeJobNotFound:       qerr.CodeNotFound,
	schemas.CodeJobCannotCancel:   qerr.CodeCannotCancel,
	schemas.CodeJobExecution:      qerr.CodeUnknown,
	schemas.CodeJobAlreadyRunning: qerr.CodeAlreadyRunning,
	schemas.CodeJobInvalidUpdate:  qerr.CodeInvalidUpdate,
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || (body.Detail == "" && body.Title == "") {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return qerr.Newf(codeForStatus(resp.StatusCode), "%d: %s", resp.StatusCode, msg)
	}

	msg := body.Detail
	if msg == "" {
		msg = body.Title
	}
	for _, e := range body.Errors {
		msg += fmt.Sprintf("; %s (%s)", e.Message, e.Location)
	}

	code, ok := codesByAPICode[body.Code]
	if !ok {
		code = codeForStatus(resp.StatusCode)
	}
	return qerr.New(code, errors.New(msg))
}

func codeForStatus(status int) qerr.Code {
	switch status {
	case http.StatusNotFound:
		return qerr.CodeNotFound
	case http.StatusConflict:
		return qerr.CodeAlreadyRunning
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return qerr.CodeInvalidArgument
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return qerr.CodeConnectionFailure
	default:
		return qerr.CodeUnknown
	}
}
