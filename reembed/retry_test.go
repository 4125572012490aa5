package reembed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failFirst returns an operation that fails n times before succeeding.
func failFirst(n int, calls *int) func() error {
	return func() error {
		*calls++
		if *calls <= n {
			return errors.New("embedding service unavailable")
		}
		return nil
	}
}

func TestRetryWithBackoff(t *testing.T) {
	tests := []struct {
		name        string
		failures    int
		maxAttempts int
		wantErr     bool
		wantCalls   int
	}{
		{name: "first attempt succeeds", failures: 0, maxAttempts: 3, wantCalls: 1},
		{name: "recovers before limit", failures: 2, maxAttempts: 5, wantCalls: 3},
		{name: "recovers on last attempt", failures: 2, maxAttempts: 3, wantCalls: 3},
		{name: "exhausts attempts", failures: 10, maxAttempts: 3, wantErr: true, wantCalls: 3},
		{name: "single attempt", failures: 1, maxAttempts: 1, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryWithBackoff(context.Background(), failFirst(tt.failures, &calls), tt.maxAttempts, time.Millisecond)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, "embedding service unavailable", err.Error(), "last error is returned unwrapped")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestRetryWithBackoff_InvalidAttempts(t *testing.T) {
	for _, attempts := range []int{0, -1} {
		calls := 0
		err := RetryWithBackoff(context.Background(), failFirst(0, &calls), attempts, time.Millisecond)
		assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
		assert.Zero(t, calls)
	}
}

func TestRetryWithBackoff_NonPositiveDelay(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), failFirst(2, &calls), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_StopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, func() error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("still down")
	}, 10, 5*time.Millisecond)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

func TestRetryWithBackoff_StopsAtDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	calls := 0
	err := RetryWithBackoff(ctx, func() error {
		calls++
		return errors.New("still down")
	}, 100, 20*time.Millisecond)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, calls, 100)
}

func TestRetryWithBackoff_DelaysGrow(t *testing.T) {
	var gaps []time.Duration
	last := time.Now()
	calls := 0
	err := RetryWithBackoff(context.Background(), func() error {
		calls++
		if calls > 1 {
			gaps = append(gaps, time.Since(last))
		}
		last = time.Now()
		if calls < 4 {
			return errors.New("retry me")
		}
		return nil
	}, 4, 10*time.Millisecond)

	require.NoError(t, err)
	require.Len(t, gaps, 3)
	assert.GreaterOrEqual(t, gaps[0], 10*time.Millisecond)
	assert.Greater(t, gaps[2], gaps[0])
}
