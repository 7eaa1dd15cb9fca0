package common

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupErrorsWrapNotFound(t *testing.T) {
	for _, err := range []error{ErrUnknownUser, ErrUnknownCandidate, ErrUnknownSubscription} {
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.NotErrorIs(t, ErrUnauthorized, ErrNotFound)
}

func TestUserError(t *testing.T) {
	err := NewUserError("could not accept candidate", ErrInvalidTransition)
	assert.Equal(t, "could not accept candidate: invalid transition", err.Error())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	bare := NewUserError("nothing to do", nil)
	assert.Equal(t, "nothing to do", bare.Error())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", want: slog.LevelDebug},
		{name: "info", want: slog.LevelInfo},
		{name: "warn", want: slog.LevelWarn},
		{name: "error", want: slog.LevelError},
		{name: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupLoggerTo(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	require.NoError(t, SetupLoggerTo(&buf, slog.LevelInfo, "json"))
	LogInfo("scan finished", Fields{"inserted": 3})
	assert.Contains(t, buf.String(), `"inserted":3`)

	require.Error(t, SetupLoggerTo(&buf, slog.LevelInfo, "xml"))
}

func TestWithRetry(t *testing.T) {
	opts := service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("succeeds after transient failure", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls < 2 {
				return errors.New("flaky")
			}
			return nil
		}, opts)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return &RetryableError{Err: errors.New("bad request"), Retryable: false}
		}, opts)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		err := WithRetry(context.Background(), func() error {
			return errors.New("down")
		}, opts)
		require.ErrorIs(t, err, ErrMaxRetries)
	})

	t.Run("keeps the last error", func(t *testing.T) {
		err := WithRetry(context.Background(), func() error {
			return &RetryableError{Err: ErrProviderConnection, Retryable: true}
		}, opts)
		require.ErrorIs(t, err, ErrMaxRetries)
		assert.ErrorIs(t, err, ErrProviderConnection)
		assert.Contains(t, err.Error(), "after 3 attempts")
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := WithRetry(ctx, func() error {
			calls++
			cancel()
			return errors.New("down")
		}, opts)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
