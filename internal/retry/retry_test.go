package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, BaseDelay: time.Millisecond}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	err := fast(3).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessOnRetry(t *testing.T) {
	calls := 0
	var retried []int
	p := fast(3)
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_AllAttemptsExhausted(t *testing.T) {
	sentinel := errors.New("always fails")
	calls := 0
	err := fast(3).Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorStopsRetry(t *testing.T) {
	sentinel := errors.New("bad url")
	calls := 0
	err := fast(5).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	assert.Equal(t, sentinel, err, "permanent wrapper is removed")
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sentinel := errors.New("down")
	p := Policy{Attempts: 10, BaseDelay: time.Hour}
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	err := p.Do(ctx, func(context.Context) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestDelayIsCapped(t *testing.T) {
	var waits []time.Duration
	p := Policy{Attempts: 5, BaseDelay: 4 * time.Millisecond, MaxDelay: 8 * time.Millisecond}
	p.OnRetry = func(_ int, _ error, d time.Duration) { waits = append(waits, d) }

	_ = p.Do(context.Background(), func(context.Context) error { return errors.New("x") })
	require.Len(t, waits, 4)
	for _, w := range waits {
		assert.LessOrEqual(t, w, 10*time.Millisecond, "8ms cap plus 25% jitter")
	}
	assert.GreaterOrEqual(t, waits[3], 6*time.Millisecond)
}

func TestJitterBounds(t *testing.T) {
	for range 100 {
		d := jitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
	assert.Equal(t, time.Duration(2), jitter(2))
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
