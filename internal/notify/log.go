package notify

import (
	"context"
	"log/slog"

	"apartment_finder/internal/domain"
)

// Log writes digests to the structured log. Used for dry runs and when no
// transport is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "log_notifier")}
}

func (l *Log) Send(_ context.Context, digest domain.Digest) error {
	l.logger.Info("digest",
		"run_id", digest.RunID,
		"subject", digest.Subject,
		"listings", digest.ListingIDs,
		"body", digest.Body,
	)
	return nil
}

func (l *Log) Close() error { return nil }
