package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"apartment_finder/internal/digest"
	"apartment_finder/internal/domain"
)

var ErrAllFetchesFailed = errors.New("every search failed to fetch")

// Pipeline performs one run: fetch, parse, dedupe, digest, send.
type Pipeline struct {
	searches  []domain.Search
	fetcher   Fetcher
	parser    Parser
	dedup     *DedupEngine
	digests   *digest.Builder
	notifier  Notifier
	alerts    AlertLog
	states    SearchStateStore
	txManager TransactionManager
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline wires a run. alerts, states and txManager may be nil when the
// configured store has no place for run bookkeeping.
func NewPipeline(
	searches []domain.Search,
	fetcher Fetcher,
	parser Parser,
	dedup *DedupEngine,
	digests *digest.Builder,
	notifier Notifier,
	alerts AlertLog,
	states SearchStateStore,
	txManager TransactionManager,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		searches:  searches,
		fetcher:   fetcher,
		parser:    parser,
		dedup:     dedup,
		digests:   digests,
		notifier:  notifier,
		alerts:    alerts,
		states:    states,
		txManager: txManager,
		logger:    logger,
		now:       time.Now,
	}
}

func (p *Pipeline) Run(ctx context.Context) (*domain.RunResult, error) {
	startTime := p.now()
	result := &domain.RunResult{RunID: uuid.New()}
	logger := p.logger.With("run_id", result.RunID.String())

	logger.Info("starting run", "searches", len(p.searches))

	scraped := make(map[string]int, len(p.searches))
	var listings []domain.Listing

	for _, search := range p.searches {
		fragment, err := p.fetcher.Fetch(ctx, search.URL)
		if err != nil {
			if ctx.Err() != nil {
				return result, fmt.Errorf("fetch %s: %w", search.Name, err)
			}
			logger.Warn("failed to fetch search", "search", search.Name, "error", err)
			result.FetchErrors = append(result.FetchErrors, domain.FetchError{
				Search: search.Name,
				URL:    search.URL,
				Err:    err,
			})
			continue
		}

		page := p.parser.Parse(fragment, search)
		for _, pe := range page.Errors {
			logger.Debug("parse error", "search", search.Name, "kind", pe.Kind, "unit", pe.Unit, "field", pe.Field)
		}

		logger.Info("parsed search",
			"search", search.Name,
			"scanned", page.Scanned,
			"listings", len(page.Listings),
			"errors", len(page.Errors),
		)

		scraped[search.Name] = page.Scanned
		result.TotalScraped += page.Scanned
		listings = append(listings, page.Listings...)
		result.Errors = append(result.Errors, page.Errors...)
	}

	if len(p.searches) > 0 && len(result.FetchErrors) == len(p.searches) {
		return result, ErrAllFetchesFailed
	}

	outcome, err := p.dedup.Dedupe(ctx, listings)
	if err != nil {
		return result, fmt.Errorf("dedupe: %w", err)
	}

	result.NewListings = outcome.New
	result.AlreadySeen = outcome.AlreadySeen
	result.Duplicates = outcome.Duplicates
	result.Unpersisted = outcome.Unpersisted

	if len(result.Unpersisted) > 0 {
		logger.Warn("some new listings were not persisted", "count", len(result.Unpersisted))
	}

	d, ok := p.digests.BuildForRun(result)
	if !ok {
		logger.Info("no new listings",
			"scraped", result.TotalScraped,
			"already_seen", result.AlreadySeen,
			"parse_errors", len(result.Errors),
		)
	} else {
		if err := p.notifier.Send(ctx, d); err != nil {
			result.Duration = p.now().Sub(startTime)
			return result, fmt.Errorf("send digest: %w", err)
		}
		result.Notified = true
		logger.Info("digest sent", "subject", d.Subject, "listings", d.Total)
	}

	if err := p.recordRun(ctx, result, d, scraped); err != nil {
		// Listings are already committed and notified; losing bookkeeping
		// only affects reporting.
		logger.Error("failed to record run", "error", err)
	}

	result.Duration = p.now().Sub(startTime)

	logger.Info("run completed",
		"new", len(result.NewListings),
		"scraped", result.TotalScraped,
		"already_seen", result.AlreadySeen,
		"duplicates", result.Duplicates,
		"parse_errors", len(result.Errors),
		"fetch_errors", len(result.FetchErrors),
		"unpersisted", len(result.Unpersisted),
		"duration", result.Duration,
	)

	return result, nil
}

func (p *Pipeline) recordRun(ctx context.Context, result *domain.RunResult, d domain.Digest, scraped map[string]int) error {
	if p.alerts == nil && p.states == nil {
		return nil
	}

	newBySearch := make(map[string]int64)
	for _, l := range result.NewListings {
		newBySearch[l.SourceSearch]++
	}
	runAt := p.now()

	record := func(ctx context.Context) error {
		if p.alerts != nil && result.Notified {
			if err := p.alerts.Record(ctx, result.RunID, runAt, d); err != nil {
				return fmt.Errorf("record alerts: %w", err)
			}
		}
		if p.states == nil {
			return nil
		}
		for _, search := range p.searches {
			count, fetched := scraped[search.Name]
			if !fetched {
				continue
			}
			state, err := p.states.Get(ctx, search.Name)
			if err != nil {
				return fmt.Errorf("get search state: %w", err)
			}
			state.SearchName = search.Name
			state.LastRunAt = runAt
			state.LastScraped = count
			state.TotalNew += newBySearch[search.Name]
			if err := p.states.Update(ctx, state); err != nil {
				return fmt.Errorf("update search state: %w", err)
			}
		}
		return nil
	}

	if p.txManager == nil {
		return record(ctx)
	}
	return p.txManager.WithTransaction(ctx, record)
}
