package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"apartment_finder/internal/domain"
)

// ListingStore is the persisted set of listing ids already notified.
type ListingStore interface {
	Contains(ctx context.Context, id string) (bool, error)
	ContainsBatch(ctx context.Context, ids []string) (map[string]struct{}, error)
	Insert(ctx context.Context, rec domain.SeenRecord) (bool, error)
	AllIDs(ctx context.Context) (map[string]struct{}, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Parser interface {
	Parse(fragment string, search domain.Search) domain.Page
}

type Notifier interface {
	Send(ctx context.Context, digest domain.Digest) error
	Close() error
}

type AlertLog interface {
	Record(ctx context.Context, runID uuid.UUID, sentAt time.Time, digest domain.Digest) error
}

type SearchStateStore interface {
	Get(ctx context.Context, searchName string) (*domain.SearchState, error)
	Update(ctx context.Context, state *domain.SearchState) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
