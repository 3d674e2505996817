package retry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func TestIsRetryableError(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "EAGAIN", err: &os.PathError{Op: "rename", Path: "x", Err: syscall.EAGAIN}, want: true},
		{name: "EBUSY wrapped", err: fmt.Errorf("replace cache: %w", syscall.EBUSY), want: true},
		{name: "permission denied", err: &os.PathError{Op: "open", Path: "x", Err: syscall.EACCES}, want: false},
		{name: "not exist", err: os.ErrNotExist, want: false},
		{name: "message match", err: errors.New("The process cannot access the file: sharing violation"), want: true},
		{name: "unrelated", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err, cfg))
		})
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return syscall.EBUSY
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return syscall.EACCES
	})

	require.ErrorIs(t, err, syscall.EACCES)
	assert.Equal(t, 1, attempts)
}

func TestDoGivesUp(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return syscall.EAGAIN
	})

	require.ErrorIs(t, err, syscall.EAGAIN)
	assert.Equal(t, 3, attempts)
}

func TestDoWithResultCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DoWithResult(ctx, fastConfig(), func() (int, error) {
		return 1, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
