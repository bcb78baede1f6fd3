package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/quatton/qremote/pkg/db"
	"github.com/quatton/qremote/pkg/kv"
	"github.com/quatton/qremote/pkg/qapi/config"
	"github.com/quatton/qremote/pkg/qapi/services/jobs"
	"github.com/quatton/qremote/pkg/qart"
	"github.com/quatton/qremote/pkg/qbus"
	"github.com/quatton/qremote/pkg/qjob"
	"github.com/quatton/qremote/pkg/qmetrics"
	"github.com/quatton/qremote/pkg/qrunner"
	"github.com/quatton/qremote/pkg/qstore"
	"github.com/quatton/qremote/pkg/qtask"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Services holds every long-lived component of a server or worker process.
type Services struct {
	Jobs    *jobs.Service
	Runner  *jobs.TaskRunner
	Pool    *qtask.Pool
	Bus     qbus.Broadcaster
	Metrics *qmetrics.Metrics

	// Checks are probed by the health endpoint.
	Checks map[string]func(context.Context) error

	closers []io.Closer
}

// Option adjusts how NewServices builds components.
type Option func(*options)

type options struct {
	metrics *qmetrics.Metrics
}

// WithMetrics records into m instead of the default registry.
func WithMetrics(m *qmetrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// NewServices builds the job service and its collaborators from cfg. The
// caller owns the result and must Close it.
func NewServices(ctx context.Context, cfg *config.EnvConfig, logger *slog.Logger, opts ...Option) (*Services, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = qmetrics.New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	}

	s := &Services{
		Metrics: o.metrics,
		Checks:  make(map[string]func(context.Context) error),
	}
	if err := s.build(ctx, cfg, logger); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) build(ctx context.Context, cfg *config.EnvConfig, logger *slog.Logger) error {
	store, err := s.buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	var client *redis.Client
	if cfg.UsesRedis() {
		client, err = kv.NewClient(cfg.Redis())
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		s.closers = append(s.closers, client)
		s.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	var broker qtask.Broker
	if cfg.BrokerBackend == config.BackendRedis {
		broker = qtask.NewRedisBroker(client, kv.NewValkeyStoreFromClient(client))
	} else {
		broker = qtask.NewMemoryBroker(kv.NewMemoryStore())
	}
	s.closers = append(s.closers, broker)

	if cfg.PubSubBackend == config.BackendRedis {
		s.Bus = qbus.NewRedisBus(client, logger)
	} else {
		s.Bus = qbus.NewMemoryBus()
	}
	s.closers = append(s.closers, s.Bus)

	s.Pool = qtask.NewPool(broker,
		qtask.WithConcurrency(cfg.WorkerConcurrency),
		qtask.WithRetryPolicy(cfg.RetryPolicy()),
		qtask.WithRevokePollInterval(cfg.RevokePollInterval),
		qtask.WithPoolLogger(logger.With("component", "pool")),
		qtask.WithObserver(func(t *qtask.Task, outcome qtask.Outcome, elapsed time.Duration) {
			s.Metrics.ObserveTask(t.Name, string(outcome), elapsed)
		}),
	)

	transport, err := buildTransport(cfg)
	if err != nil {
		return err
	}
	executor := qrunner.NewExecutor(transport,
		qrunner.WithPollInterval(cfg.StreamPollInterval),
		qrunner.WithLogger(logger.With("component", "executor")),
	)

	runnerOpts := []jobs.RunnerOption{
		jobs.WithStderrIsFailure(cfg.StderrIsFailure),
		jobs.WithRunnerMetrics(s.Metrics),
	}
	serviceOpts := []jobs.ServiceOption{jobs.WithMetrics(s.Metrics)}

	if cfg.ArchiveEnabled() {
		artStore, err := qart.NewS3Store(cfg.S3())
		if err != nil {
			return err
		}
		if err := artStore.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to prepare bucket %s: %w", cfg.S3Bucket, err)
		}
		archiver := qart.NewArchiver(artStore, cfg.S3URLExpiry)
		runnerOpts = append(runnerOpts, jobs.WithRunnerArchiver(archiver))
		serviceOpts = append(serviceOpts, jobs.WithArchiver(archiver))
	}

	s.Runner = jobs.NewTaskRunner(store, executor, s.Bus, s.Pool, logger.With("component", "runner"), runnerOpts...)
	s.Runner.Register(s.Pool)
	s.Jobs = jobs.NewService(store, s.Pool, s.Runner, logger.With("component", "jobs"), serviceOpts...)
	return nil
}

func (s *Services) buildStore(ctx context.Context, cfg *config.EnvConfig) (qjob.Store, error) {
	if cfg.StoreBackend == config.BackendMemory {
		return qstore.NewMemoryStore(), nil
	}

	database, err := db.New(ctx, cfg.DB())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.closers = append(s.closers, database)
	s.Checks["database"] = func(ctx context.Context) error { return database.PingContext(ctx) }
	return qstore.NewBunStore(database), nil
}

func buildTransport(cfg *config.EnvConfig) (qrunner.Transport, error) {
	if cfg.RemoteTransport == config.TransportLocal {
		return qrunner.NewLocalTransport(), nil
	}
	t, err := qrunner.NewSSHTransport(cfg.SSH())
	if err != nil {
		return nil, fmt.Errorf("failed to configure ssh transport: %w", err)
	}
	return t, nil
}

// Close releases connections in reverse order of creation.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// EmptyServices is used to render the OpenAPI document without backends.
func EmptyServices() *Services {
	return &Services{Checks: map[string]func(context.Context) error{}}
}
