package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"apartment_finder/internal/domain"
)

// Runner performs one complete pipeline pass.
type Runner interface {
	Run(ctx context.Context) (*domain.RunResult, error)
}

type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewScheduler(runner Runner, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// Start runs immediately and then on every tick until ctx is cancelled. A
// corrupt store stops the loop: later runs would fail the same way.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	if err := s.RunOnce(ctx); errors.Is(err, domain.ErrStoreCorrupt) {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); errors.Is(err, domain.ErrStoreCorrupt) {
				return err
			}
		}
	}
}

// RunOnce performs a single bounded run and logs its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	result, err := s.runner.Run(runCtx)
	if err != nil {
		attrs := []any{"error", err}
		if result != nil {
			attrs = append(attrs, "run_id", result.RunID.String())
		}
		s.logger.Error("run aborted", attrs...)
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
