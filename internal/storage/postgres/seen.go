package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"apartment_finder/internal/domain"
)

// SeenStore is the Postgres-backed listing store.
type SeenStore struct {
	db *sqlx.DB
}

func NewSeenStore(db *sqlx.DB) *SeenStore {
	return &SeenStore{db: db}
}

func (s *SeenStore) Contains(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &exists,
		"SELECT EXISTS (SELECT 1 FROM seen_listings WHERE listing_id = $1)", id)
	if err != nil {
		return false, classify(err)
	}
	return exists, nil
}

func (s *SeenStore) ContainsBatch(ctx context.Context, ids []string) (map[string]struct{}, error) {
	present := make(map[string]struct{})
	if len(ids) == 0 {
		return present, nil
	}

	var found []string
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &found,
		"SELECT listing_id FROM seen_listings WHERE listing_id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, classify(err)
	}

	for _, id := range found {
		present[id] = struct{}{}
	}
	return present, nil
}

func (s *SeenStore) Insert(ctx context.Context, rec domain.SeenRecord) (bool, error) {
	query := `
		INSERT INTO seen_listings (listing_id, first_seen_at)
		VALUES ($1, $2)
		ON CONFLICT (listing_id) DO NOTHING`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, rec.ListingID, rec.FirstSeenAt)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SeenStore) AllIDs(ctx context.Context) (map[string]struct{}, error) {
	var found []string
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &found, "SELECT listing_id FROM seen_listings"); err != nil {
		return nil, classify(err)
	}

	ids := make(map[string]struct{}, len(found))
	for _, id := range found {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// Get returns the stored record, or nil when the id was never seen.
func (s *SeenStore) Get(ctx context.Context, id string) (*domain.SeenRecord, error) {
	var rec domain.SeenRecord
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &rec,
		"SELECT listing_id, first_seen_at FROM seen_listings WHERE listing_id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &rec, nil
}

func (s *SeenStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE seen_listings"); err != nil {
		return fmt.Errorf("truncate seen_listings: %w", err)
	}
	return nil
}

func (s *SeenStore) Close() error { return nil }

// classify maps Postgres' data-corruption class onto ErrStoreCorrupt so the
// run aborts instead of treating unreadable rows as absent.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "XX" {
		return fmt.Errorf("%w: %v", domain.ErrStoreCorrupt, err)
	}
	return err
}
