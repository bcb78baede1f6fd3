package qtask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Handler runs one task. Returning Retry(err) schedules another attempt
// when the task has budget left.
type Handler func(ctx context.Context, t *Task) error

// Outcome labels how a task run ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeRetry   Outcome = "retry"
	OutcomeRevoked Outcome = "revoked"
)

// Observer is told about every finished task run.
type Observer func(t *Task, outcome Outcome, elapsed time.Duration)

// AbandonFunc is called for a task whose retry could not be scheduled, so
// whatever it owns can be released.
type AbandonFunc func(ctx context.Context, t *Task, cause error)

// Pool runs registered handlers on a fixed number of workers.
type Pool struct {
	broker      Broker
	policy      RetryPolicy
	concurrency int
	revokePoll  time.Duration
	logger      *slog.Logger
	observer    Observer

	mu       sync.RWMutex
	handlers map[string]Handler
	abandon  AbandonFunc
}

// PoolOption configures a Pool
type PoolOption func(*Pool)

func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) PoolOption {
	return func(p *Pool) {
		p.policy = policy
	}
}

// WithRevokePollInterval sets how often a running task checks whether it was
// revoked.
func WithRevokePollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.revokePoll = d
		}
	}
}

func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

func WithObserver(o Observer) PoolOption {
	return func(p *Pool) {
		p.observer = o
	}
}

func NewPool(broker Broker, opts ...PoolOption) *Pool {
	p := &Pool{
		broker:      broker,
		policy:      DefaultRetryPolicy(),
		concurrency: 4,
		revokePoll:  time.Second,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		handlers:    make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds a handler to a task name.
func (p *Pool) Register(name string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = h
}

// OnAbandon sets the function told about tasks the pool gives up on.
func (p *Pool) OnAbandon(fn AbandonFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abandon = fn
}

// Submit enqueues a new task. An empty id gets a generated one.
func (p *Pool) Submit(ctx context.Context, name, id string, args map[string]string) (*Task, error) {
	if id == "" {
		id = uuid.NewString()
	}
	t := &Task{
		ID:         id,
		Name:       name,
		Args:       args,
		MaxRetries: p.policy.MaxRetries,
		EnqueuedAt: time.Now(),
	}
	if err := p.broker.Enqueue(ctx, t, 0); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", name, err)
	}
	return t, nil
}

// Revoke stops a task: queued copies are skipped and a running one has its
// context cancelled.
func (p *Pool) Revoke(ctx context.Context, id string) error {
	return p.broker.Revoke(ctx, id)
}

// Run starts the workers and blocks until ctx ends.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		worker := i
		g.Go(func() error {
			return p.work(ctx, worker)
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, worker int) error {
	logger := p.logger.With("worker", worker)
	for {
		t, err := p.broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrBrokerClosed) {
				return nil
			}
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		p.Process(ctx, t)
	}
}

// Process runs a single task through its handler, honoring revocation and
// the retry policy.
func (p *Pool) Process(ctx context.Context, t *Task) {
	logger := p.logger.With("task", t.String())
	start := time.Now()

	revoked, err := p.broker.IsRevoked(ctx, t.ID)
	if err != nil {
		logger.Warn("failed to check revocation", "error", err)
	}
	if revoked {
		logger.Info("skipping revoked task")
		p.observe(t, OutcomeRevoked, start)
		return
	}

	p.mu.RLock()
	h, ok := p.handlers[t.Name]
	p.mu.RUnlock()
	if !ok {
		logger.Error("no handler registered for task")
		p.observe(t, OutcomeFailure, start)
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	stopWatch := p.watchRevocation(taskCtx, cancel, t.ID)
	err = h(taskCtx, t)
	stopWatch()
	wasRevoked := taskCtx.Err() != nil && ctx.Err() == nil
	cancel()

	switch {
	case err == nil:
		p.observe(t, OutcomeSuccess, start)
	case wasRevoked:
		logger.Info("task revoked while running")
		p.observe(t, OutcomeRevoked, start)
	case IsRetry(err) && t.CanRetry():
		next := *t
		next.Attempt++
		next.EnqueuedAt = time.Time{}
		delay := p.policy.Delay(t.Attempt)

		enqCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if enqErr := p.broker.Enqueue(enqCtx, &next, delay); enqErr != nil {
			logger.Error("failed to schedule retry", "error", enqErr)
			p.giveUp(enqCtx, t, fmt.Errorf("failed to schedule retry: %w", enqErr))
		} else {
			logger.Warn("task failed, retrying", "error", err, "delay", delay)
		}
		done()
		p.observe(t, OutcomeRetry, start)
	default:
		logger.Error("task failed", "error", err)
		p.observe(t, OutcomeFailure, start)
	}
}

func (p *Pool) giveUp(ctx context.Context, t *Task, cause error) {
	p.mu.RLock()
	fn := p.abandon
	p.mu.RUnlock()
	if fn != nil {
		fn(ctx, t, cause)
	}
}

func (p *Pool) watchRevocation(ctx context.Context, cancel context.CancelFunc, id string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.revokePoll)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				revoked, err := p.broker.IsRevoked(ctx, id)
				if err == nil && revoked {
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func (p *Pool) observe(t *Task, outcome Outcome, start time.Time) {
	if p.observer != nil {
		p.observer(t, outcome, time.Since(start))
	}
}
