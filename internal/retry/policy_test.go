package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_TimeoutsAndBackoff(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 30*time.Second, p.Timeout(1))
	assert.Equal(t, 40*time.Second, p.Timeout(2))
	assert.Equal(t, 50*time.Second, p.Timeout(3))

	assert.Equal(t, 1*time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MaxAttempts = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.BaseTimeout = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.BackoffUnit = -time.Second
	assert.Error(t, p.Validate())
}
