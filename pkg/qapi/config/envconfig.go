package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/qremote/pkg/db"
	"github.com/quatton/qremote/pkg/kv"
	"github.com/quatton/qremote/pkg/qapi/utils"
	"github.com/quatton/qremote/pkg/qart"
	"github.com/quatton/qremote/pkg/qrunner"
	"github.com/quatton/qremote/pkg/qtask"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"

	TransportSSH   = "ssh"
	TransportLocal = "local"
)

type EnvConfig struct {
	Port        string `envconfig:"PORT" default:"8000"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:8000"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`

	StoreBackend  string `envconfig:"STORE_BACKEND" default:"postgres"`
	BrokerBackend string `envconfig:"BROKER_BACKEND" default:"redis"`
	PubSubBackend string `envconfig:"PUBSUB_BACKEND" default:"redis"`

	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"qremote"`
	DBPassword string `envconfig:"DB_PASSWORD" default:"password"`
	DBName     string `envconfig:"DB_NAME" default:"qremote"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBDebug    bool   `envconfig:"DB_DEBUG" default:"false"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	RemoteTransport   string        `envconfig:"REMOTE_TRANSPORT" default:"ssh"`
	SSHHost           string        `envconfig:"SSH_HOST"`
	SSHPort           int           `envconfig:"SSH_PORT" default:"22"`
	SSHUsername       string        `envconfig:"SSH_USERNAME"`
	SSHKeyPath        string        `envconfig:"SSH_KEY_PATH"`
	SSHKnownHosts     string        `envconfig:"SSH_KNOWN_HOSTS"`
	SSHConnectTimeout time.Duration `envconfig:"SSH_CONNECT_TIMEOUT" default:"10s"`

	StreamPollInterval  time.Duration `envconfig:"STREAM_POLL_INTERVAL" default:"100ms"`
	WorkerConcurrency   int           `envconfig:"WORKER_CONCURRENCY" default:"4"`
	TaskMaxRetries      int           `envconfig:"TASK_MAX_RETRIES" default:"3"`
	TaskRetryBackoff    time.Duration `envconfig:"TASK_RETRY_BACKOFF" default:"30s"`
	TaskRetryMaxBackoff time.Duration `envconfig:"TASK_RETRY_MAX_BACKOFF" default:"10m"`
	RevokePollInterval  time.Duration `envconfig:"REVOKE_POLL_INTERVAL" default:"1s"`
	StderrIsFailure     bool          `envconfig:"STDERR_IS_FAILURE" default:"true"`

	S3Endpoint  string        `envconfig:"S3_ENDPOINT"`
	S3AccessKey string        `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string        `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string        `envconfig:"S3_BUCKET" default:"qremote-jobs"`
	S3Region    string        `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL    bool          `envconfig:"S3_USE_SSL" default:"false"`
	S3URLExpiry time.Duration `envconfig:"S3_URL_EXPIRY" default:"1h"`
}

// ValidateEnv loads .env in development, reads the environment and checks
// the settings against each other. Every problem is reported at once.
func ValidateEnv() (*EnvConfig, error) {
	if utils.IsDev() {
		if err := godotenv.Load(); err != nil {
			log.Println("ℹ No .env file found")
		} else {
			log.Println("✓ Loaded .env file")
		}
	}

	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate reports every inconsistent setting.
func (c *EnvConfig) Validate() error {
	var errors []string

	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		errors = append(errors, "  ❌ BASE_URL must be a valid URL")
	}
	if !oneOf(c.LogFormat, "text", "json") {
		errors = append(errors, "  ❌ LOG_FORMAT must be text or json")
	}
	if !oneOf(c.StoreBackend, BackendPostgres, BackendMemory) {
		errors = append(errors, "  ❌ STORE_BACKEND must be postgres or memory")
	}
	if !oneOf(c.BrokerBackend, BackendRedis, BackendMemory) {
		errors = append(errors, "  ❌ BROKER_BACKEND must be redis or memory")
	}
	if !oneOf(c.PubSubBackend, BackendRedis, BackendMemory) {
		errors = append(errors, "  ❌ PUBSUB_BACKEND must be redis or memory")
	}

	switch c.RemoteTransport {
	case TransportSSH:
		if c.SSHHost == "" {
			errors = append(errors, "  ❌ SSH_HOST is required when REMOTE_TRANSPORT=ssh")
		}
		if c.SSHUsername == "" {
			errors = append(errors, "  ❌ SSH_USERNAME is required when REMOTE_TRANSPORT=ssh")
		}
		if c.SSHKeyPath == "" {
			errors = append(errors, "  ❌ SSH_KEY_PATH is required when REMOTE_TRANSPORT=ssh")
		}
	case TransportLocal:
	default:
		errors = append(errors, "  ❌ REMOTE_TRANSPORT must be ssh or local")
	}

	if c.WorkerConcurrency < 1 {
		errors = append(errors, "  ❌ WORKER_CONCURRENCY must be at least 1")
	}
	if c.TaskMaxRetries < 0 {
		errors = append(errors, "  ❌ TASK_MAX_RETRIES must not be negative")
	}
	if c.StreamPollInterval <= 0 {
		errors = append(errors, "  ❌ STREAM_POLL_INTERVAL must be positive")
	}

	if (c.S3AccessKey != "" && c.S3SecretKey == "") || (c.S3AccessKey == "" && c.S3SecretKey != "") {
		errors = append(errors, "  ❌ Both S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
	}

	if len(errors) > 0 {
		return fmt.Errorf("environment validation failed:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

// UsesRedis reports whether any component needs the Redis client.
func (c *EnvConfig) UsesRedis() bool {
	return c.BrokerBackend == BackendRedis || c.PubSubBackend == BackendRedis
}

// ArchiveEnabled reports whether job output is archived to S3.
func (c *EnvConfig) ArchiveEnabled() bool {
	return c.S3Endpoint != ""
}

func (c *EnvConfig) DB() db.Config {
	return db.Config{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Database: c.DBName,
		SSLMode:  c.DBSSLMode,
		Debug:    c.DBDebug,
	}
}

func (c *EnvConfig) Redis() kv.ValkeyConfig {
	return kv.ValkeyConfig{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func (c *EnvConfig) SSH() qrunner.SSHConfig {
	return qrunner.SSHConfig{
		Host:           c.SSHHost,
		Port:           c.SSHPort,
		Username:       c.SSHUsername,
		KeyPath:        c.SSHKeyPath,
		KnownHostsPath: c.SSHKnownHosts,
		ConnectTimeout: c.SSHConnectTimeout,
	}
}

func (c *EnvConfig) S3() qart.S3Config {
	return qart.S3Config{
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Bucket:    c.S3Bucket,
		Region:    c.S3Region,
		UseSSL:    c.S3UseSSL,
	}
}

func (c *EnvConfig) RetryPolicy() qtask.RetryPolicy {
	return qtask.RetryPolicy{
		MaxRetries: c.TaskMaxRetries,
		Backoff:    c.TaskRetryBackoff,
		MaxBackoff: c.TaskRetryMaxBackoff,
	}
}

func (c *EnvConfig) Print(fmtr func(string, ...interface{})) {
	fmtr("📋 Configuration:\n")
	fmtr("  Environment: %s\n", c.Environment)
	fmtr("  Port: %s\n", c.Port)
	fmtr("  Base URL: %s\n", c.BaseURL)

	if c.StoreBackend == BackendPostgres {
		fmtr("  Store: postgres %s@%s:%d/%s (sslmode=%s, password=%s)\n",
			c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode, utils.MaskSecret(c.DBPassword))
	} else {
		fmtr("  Store: %s\n", c.StoreBackend)
	}
	fmtr("  Broker: %s, Pub/Sub: %s\n", c.BrokerBackend, c.PubSubBackend)
	if c.UsesRedis() {
		fmtr("  Redis: %s db=%d (password=%s)\n", c.RedisAddr, c.RedisDB, utils.MaskSecret(c.RedisPassword))
	}

	if c.RemoteTransport == TransportSSH {
		fmtr("  Remote host: %s@%s:%d (key %s)\n", c.SSHUsername, c.SSHHost, c.SSHPort, c.SSHKeyPath)
		if c.SSHKnownHosts == "" {
			fmtr("    Host key check: ✗ Disabled\n")
		} else {
			fmtr("    Host key check: ✓ %s\n", c.SSHKnownHosts)
		}
	} else {
		fmtr("  Remote host: local shell\n")
	}

	fmtr("  Workers: %d, retries: %d (backoff %s, max %s)\n",
		c.WorkerConcurrency, c.TaskMaxRetries, c.TaskRetryBackoff, c.TaskRetryMaxBackoff)
	fmtr("  Stderr fails job: %t\n", c.StderrIsFailure)

	if c.ArchiveEnabled() {
		fmtr("  Archive: ✓ s3://%s at %s\n", c.S3Bucket, c.S3Endpoint)
		fmtr("    Access Key: %s\n", utils.MaskSecret(c.S3AccessKey))
	} else {
		fmtr("  Archive: ✗ Disabled\n")
	}
}
