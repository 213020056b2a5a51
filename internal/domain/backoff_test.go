package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 30*time.Second, BackoffDelay(0))
	assert.Equal(t, 60*time.Second, BackoffDelay(1))
	assert.Equal(t, 120*time.Second, BackoffDelay(2))
	assert.Equal(t, 240*time.Second, BackoffDelay(3))
	assert.Equal(t, 600*time.Second, BackoffDelay(4))
}

func TestBackoffDelayClamps(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 30*time.Second, BackoffDelay(-3))
	assert.Equal(t, 600*time.Second, BackoffDelay(5))
	assert.Equal(t, 600*time.Second, BackoffDelay(100))
}
