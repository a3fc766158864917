package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBusyErr(t *testing.T) {
	assert.False(t, isBusyErr(nil))
	assert.True(t, isBusyErr(errors.New("database is locked")))
	assert.True(t, isBusyErr(errors.New("database is busy")))
	assert.True(t, isBusyErr(errors.New("sqlite failure: SQLITE_BUSY: retry later")))
	assert.False(t, isBusyErr(errors.New("UNIQUE constraint failed")))
	assert.False(t, isBusyErr(errors.New("no such table: entities")))
}

func TestWithRetrySucceedsAfterContention(t *testing.T) {
	cfg := &Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond}
	attempts := 0
	err := withRetry(context.Background(), cfg, "test", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnNonTransientError(t *testing.T) {
	cfg := &Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond}
	attempts := 0
	wantErr := errors.New("UNIQUE constraint failed")
	err := withRetry(context.Background(), cfg, "test", func() error {
		attempts++
		return wantErr
	})
	assert.Equal(t, wantErr, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	cfg := &Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond}
	attempts := 0
	err := withRetry(context.Background(), cfg, "test", func() error {
		attempts++
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, 3, attempts)
}

func TestWithRetryRespectsContextDuringBackoff(t *testing.T) {
	cfg := &Config{MaxRetries: 5, RetryBaseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- withRetry(ctx, cfg, "test", func() error {
			return errors.New("database is locked")
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("withRetry did not abort on context cancellation")
	}
}

func TestWithRetryNoRetryOnSuccess(t *testing.T) {
	cfg := &Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond}
	attempts := 0
	err := withRetry(context.Background(), cfg, "test", func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}
