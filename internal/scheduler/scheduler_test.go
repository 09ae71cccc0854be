package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apartment_finder/internal/domain"
)

type runnerFunc func(ctx context.Context) (*domain.RunResult, error)

func (f runnerFunc) Run(ctx context.Context) (*domain.RunResult, error) { return f(ctx) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunOnce_AppliesTimeout(t *testing.T) {
	var hadDeadline bool
	s := NewScheduler(runnerFunc(func(ctx context.Context) (*domain.RunResult, error) {
		_, hadDeadline = ctx.Deadline()
		return &domain.RunResult{}, nil
	}), time.Hour, time.Minute, testLogger())

	require.NoError(t, s.RunOnce(context.Background()))
	assert.True(t, hadDeadline)
}

func TestRunOnce_WrapsError(t *testing.T) {
	s := NewScheduler(runnerFunc(func(context.Context) (*domain.RunResult, error) {
		return &domain.RunResult{}, errors.New("send digest: refused")
	}), time.Hour, 0, testLogger())

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send digest")
}

func TestStart_RunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	s := NewScheduler(runnerFunc(func(context.Context) (*domain.RunResult, error) {
		if runs.Add(1) == 3 {
			cancel()
		}
		return &domain.RunResult{}, errors.New("transient")
	}), 5*time.Millisecond, time.Second, testLogger())

	err := s.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestStart_StopsOnCorruptStore(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(runnerFunc(func(context.Context) (*domain.RunResult, error) {
		runs.Add(1)
		return nil, fmt.Errorf("dedupe: %w", domain.ErrStoreCorrupt)
	}), 5*time.Millisecond, time.Second, testLogger())

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrStoreCorrupt)
	assert.Equal(t, int32(1), runs.Load())
}
