package rate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestNoLimiter(t *testing.T) {
	l := &NoLimiter{}
	for i := 0; i < 10000; i++ {
		allowed, err := l.Allow("")
		assert.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestLocalRateLimiter(t *testing.T) {
	l := NewLocalRateLimiter(rate.Limit(2))

	for i := 0; i < 2; i++ {
		allowed, err := l.Allow("getBalance")
		assert.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := l.Allow("getBalance")
	assert.NoError(t, err)
	assert.False(t, allowed)

	// Methods are limited independently.
	allowed, err = l.Allow("requestAirdrop")
	assert.NoError(t, err)
	assert.True(t, allowed)
}

func TestLocalRateLimiter_FractionalLimit(t *testing.T) {
	l := NewLocalRateLimiter(rate.Limit(0.5))

	allowed, err := l.Allow("getBalance")
	assert.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.Allow("getBalance")
	assert.NoError(t, err)
	assert.False(t, allowed)
}

func TestFromRate(t *testing.T) {
	_, ok := FromRate(0).(*NoLimiter)
	assert.True(t, ok)

	_, ok = FromRate(-1).(*NoLimiter)
	assert.True(t, ok)

	_, ok = FromRate(5).(*keyedLimiter)
	assert.True(t, ok)
}
