package qtask

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 30*time.Second, p.Delay(0))
	assert.Equal(t, 60*time.Second, p.Delay(1))
	assert.Equal(t, 120*time.Second, p.Delay(2))
	assert.Equal(t, 10*time.Minute, p.Delay(10))
	assert.Equal(t, 30*time.Second, p.Delay(-1))
}

func TestTask_CanRetry(t *testing.T) {
	task := &Task{MaxRetries: 3}
	for i := 0; i < 3; i++ {
		task.Attempt = i
		assert.True(t, task.CanRetry())
	}
	task.Attempt = 3
	assert.False(t, task.CanRetry())
}

func TestRetry_Unwraps(t *testing.T) {
	base := errors.New("connection refused")
	err := Retry(base)

	assert.True(t, IsRetry(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsRetry(base))
}
