package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"apartment_finder/internal/domain"
)

type DedupOutcome struct {
	// New holds first occurrences of unseen ids, in input order.
	New         []domain.Listing
	AlreadySeen int
	Duplicates  int
	// Unpersisted are members of New whose commit failed.
	Unpersisted []domain.Listing
}

type DedupEngine struct {
	store  ListingStore
	now    func() time.Time
	logger *slog.Logger
}

func NewDedupEngine(store ListingStore, logger *slog.Logger) *DedupEngine {
	return &DedupEngine{
		store:  store,
		now:    time.Now,
		logger: logger.With("component", "dedup"),
	}
}

// Dedupe partitions listings into new and already seen, then records every
// new id with a single run timestamp. A failed membership read is returned
// before anything is written. Failed writes are reported, not returned.
func (e *DedupEngine) Dedupe(ctx context.Context, listings []domain.Listing) (*DedupOutcome, error) {
	outcome := &DedupOutcome{}
	if len(listings) == 0 {
		return outcome, nil
	}

	ids := make([]string, 0, len(listings))
	batch := make(map[string]struct{}, len(listings))
	for _, l := range listings {
		if _, dup := batch[l.ID]; dup {
			continue
		}
		batch[l.ID] = struct{}{}
		ids = append(ids, l.ID)
	}

	seen, err := e.store.ContainsBatch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("query seen listings: %w", err)
	}

	emitted := make(map[string]struct{}, len(ids))
	for _, l := range listings {
		if _, ok := seen[l.ID]; ok {
			outcome.AlreadySeen++
			continue
		}
		if _, ok := emitted[l.ID]; ok {
			outcome.Duplicates++
			continue
		}
		emitted[l.ID] = struct{}{}
		outcome.New = append(outcome.New, l)
	}

	runAt := e.now().UTC()
	for _, l := range outcome.New {
		if _, err := e.store.Insert(ctx, domain.SeenRecord{ListingID: l.ID, FirstSeenAt: runAt}); err != nil {
			e.logger.Warn("failed to persist listing, it may be notified again",
				"listing_id", l.ID,
				"error", err,
			)
			outcome.Unpersisted = append(outcome.Unpersisted, l)
		}
	}

	e.logger.Debug("dedupe completed",
		"input", len(listings),
		"new", len(outcome.New),
		"already_seen", outcome.AlreadySeen,
		"duplicates", outcome.Duplicates,
		"unpersisted", len(outcome.Unpersisted),
	)

	return outcome, nil
}
