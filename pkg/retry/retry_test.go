package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/code-payments/nft-minter/pkg/retry/backoff"
)

func TestRealSleeper(t *testing.T) {
	sleeperImpl = &realSleeper{}

	start := time.Now()
	n, err := Retry(func() error { return errors.New("err") },
		Limit(2),
		Backoff(backoff.Constant(500*time.Millisecond), 500*time.Millisecond),
	)

	assert.NotNil(t, err)
	assert.EqualValues(t, 2, n)
	assert.True(t, 500*time.Millisecond <= time.Since(start))
	assert.True(t, 1*time.Second > time.Since(start))
}

func TestRetrier(t *testing.T) {
	retriableErr := errors.New("retriable")
	r := NewRetrier(Limit(5), RetriableErrors(retriableErr))

	// Happy path always goes through
	attempts, err := r.Retry(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, uint(1), attempts)

	// Test ordering does not matter, by triggering 1 filter, then the other.
	attempts, err = r.Retry(func() error { return errors.New("unknown") })
	assert.Error(t, err)
	assert.Equal(t, uint(1), attempts)

	attempts, err = r.Retry(func() error { return retriableErr })
	assert.EqualError(t, retriableErr, err.Error())
	assert.Equal(t, uint(5), attempts)
}

func TestRetryContext(t *testing.T) {
	sleeperImpl = &testSleeper{}

	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	n, err := RetryContext(ctx, func() error {
		calls++
		if calls == 3 {
			cancel()
		}
		return errors.New("err")
	}, Limit(10), Backoff(backoff.Constant(time.Millisecond), time.Millisecond))
	assert.Error(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, 3, calls)

	n, err = RetryContext(ctx, func() error {
		t.Fatal("action should not run")
		return nil
	})
	assert.Equal(t, context.Canceled, err)
	assert.EqualValues(t, 0, n)
}

func TestRealSleeper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	(&realSleeper{}).Sleep(ctx, time.Minute)
	assert.True(t, time.Since(start) < time.Second)
}
