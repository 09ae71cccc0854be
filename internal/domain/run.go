package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ParseErrorKind string

const (
	MissingIdentifier ParseErrorKind = "missing_identifier"
	UnparseableField  ParseErrorKind = "unparseable_field"
)

// ParseError describes one unit the parser could not fully extract. It never
// aborts the page.
type ParseError struct {
	Kind   ParseErrorKind
	Search string
	Unit   int    // zero-based card index on the page
	Field  string // set for UnparseableField
	Detail string
}

func (e ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: unit %d: %s %s: %s", e.Search, e.Unit, e.Kind, e.Field, e.Detail)
	}
	return fmt.Sprintf("%s: unit %d: %s: %s", e.Search, e.Unit, e.Kind, e.Detail)
}

// FetchError records a search page that could not be retrieved.
type FetchError struct {
	Search string
	URL    string
	Err    error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Search, e.URL, e.Err)
}

func (e FetchError) Unwrap() error { return e.Err }

// Page is what one search-results page yields. Scanned counts every
// identified unit, including those the search's filters then dropped.
type Page struct {
	Listings []Listing
	Errors   []ParseError
	Scanned  int
}

// RunResult is produced once per pipeline run and discarded after the digest
// has been handed off.
type RunResult struct {
	RunID       uuid.UUID
	NewListings []Listing
	// TotalScraped counts identified units across all pages before filtering.
	TotalScraped int
	Errors       []ParseError
	FetchErrors  []FetchError
	AlreadySeen  int
	Duplicates   int
	// Unpersisted are new listings whose commit failed. They were notified
	// and will be classified as new again on the next run.
	Unpersisted []Listing
	Notified    bool
	Duration    time.Duration
}

type SearchState struct {
	ID          int64     `db:"id"`
	SearchName  string    `db:"search_name"`
	LastRunAt   time.Time `db:"last_run_at"`
	LastScraped int       `db:"last_scraped"`
	TotalNew    int64     `db:"total_new"`
}

// Alert is one delivered notification for one listing.
type Alert struct {
	ID        int64     `db:"id"`
	RunID     uuid.UUID `db:"run_id"`
	SentAt    time.Time `db:"sent_at"`
	ListingID string    `db:"listing_id"`
	AlertType string    `db:"alert_type"`
	Message   string    `db:"message"`
}
