package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"apartment_finder/internal/domain"
)

type SearchStateStore struct {
	db *sqlx.DB
}

func NewSearchStateStore(db *sqlx.DB) *SearchStateStore {
	return &SearchStateStore{db: db}
}

func (s *SearchStateStore) Get(ctx context.Context, searchName string) (*domain.SearchState, error) {
	var state domain.SearchState
	query := `
		SELECT id, search_name, last_run_at, last_scraped, total_new
		FROM search_state
		WHERE search_name = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &state, query, searchName)
	if errors.Is(err, sql.ErrNoRows) {
		// First run for this search.
		return &domain.SearchState{SearchName: searchName}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *SearchStateStore) Update(ctx context.Context, state *domain.SearchState) error {
	query := `
		INSERT INTO search_state (search_name, last_run_at, last_scraped, total_new)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (search_name) DO UPDATE SET
			last_run_at = EXCLUDED.last_run_at,
			last_scraped = EXCLUDED.last_scraped,
			total_new = EXCLUDED.total_new`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		state.SearchName,
		state.LastRunAt,
		state.LastScraped,
		state.TotalNew,
	)
	return err
}
