package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"apartment_finder/internal/domain"
)

const alertNewListing = "new_listing"

type AlertStore struct {
	db *sqlx.DB
}

func NewAlertStore(db *sqlx.DB) *AlertStore {
	return &AlertStore{db: db}
}

// Record writes one alert row per listing in the delivered digest.
func (s *AlertStore) Record(ctx context.Context, runID uuid.UUID, sentAt time.Time, digest domain.Digest) error {
	if len(digest.ListingIDs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO alerts (run_id, sent_at, listing_id, alert_type, message) VALUES ")
	valueArgs := make([]interface{}, 0, len(digest.ListingIDs)+4)
	valueArgs = append(valueArgs, runID, sentAt, alertNewListing, digest.Subject)

	for i, id := range digest.ListingIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($1, $2, $")
		sb.WriteString(strconv.Itoa(i + 5))
		sb.WriteString(", $3, $4)")
		valueArgs = append(valueArgs, id)
	}

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

func (s *AlertStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Alert, error) {
	query := `
		SELECT id, run_id, sent_at, listing_id, alert_type, message
		FROM alerts
		WHERE run_id = $1
		ORDER BY id`

	var alerts []domain.Alert
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &alerts, query, runID)
	return alerts, err
}
