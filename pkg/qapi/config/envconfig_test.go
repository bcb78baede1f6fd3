package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnv_LocalDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("REMOTE_TRANSPORT", "local")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("BROKER_BACKEND", "memory")
	t.Setenv("PUBSUB_BACKEND", "memory")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.StreamPollInterval)
	assert.True(t, cfg.StderrIsFailure)
	assert.False(t, cfg.UsesRedis())
	assert.False(t, cfg.ArchiveEnabled())

	policy := cfg.RetryPolicy()
	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, 30*time.Second, policy.Backoff)
	assert.Equal(t, 10*time.Minute, policy.MaxBackoff)
}

func TestValidateEnv_ReportsEveryProblem(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("REMOTE_TRANSPORT", "ssh")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("S3_ACCESS_KEY", "minio")

	_, err := ValidateEnv()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "STORE_BACKEND must be postgres or memory")
	assert.Contains(t, msg, "SSH_HOST is required")
	assert.Contains(t, msg, "SSH_USERNAME is required")
	assert.Contains(t, msg, "SSH_KEY_PATH is required")
	assert.Contains(t, msg, "S3_ACCESS_KEY and S3_SECRET_KEY")
}

func TestEnvConfig_SSH(t *testing.T) {
	cfg := &EnvConfig{
		SSHHost:           "runner.internal",
		SSHPort:           2222,
		SSHUsername:       "deploy",
		SSHKeyPath:        "/keys/id_ed25519",
		SSHConnectTimeout: 5 * time.Second,
	}

	ssh := cfg.SSH()
	assert.Equal(t, "runner.internal", ssh.Host)
	assert.Equal(t, 2222, ssh.Port)
	assert.Equal(t, "deploy", ssh.Username)
	assert.Empty(t, ssh.KnownHostsPath)
}
