package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithBackoffEventualSuccess(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), zap.NewNop(), "op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffExhausted(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), zap.NewNop(), "op", func() error {
		attempts++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithBackoff(ctx, fastConfig(), zap.NewNop(), "op", func() error {
		return errors.New("never retried")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPollResolves(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), fastConfig(), zap.NewNop(), "op", func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollBoundedByDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := Poll(ctx, fastConfig(), zap.NewNop(), "op", func() (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollTerminalError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Poll(context.Background(), fastConfig(), zap.NewNop(), "op", func() (bool, error) {
		calls++
		return false, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestCalculateBackoffCapped(t *testing.T) {
	cfg := fastConfig()
	assert.Equal(t, time.Millisecond, calculateBackoff(cfg, 1))
	assert.Equal(t, 2*time.Millisecond, calculateBackoff(cfg, 2))
	assert.Equal(t, 5*time.Millisecond, calculateBackoff(cfg, 10), "delay never exceeds the cap")
}
