//go:build integration

package postgres

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"apartment_finder/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_seen_listings.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db

	// Remaining tables come from the embedded scripts; 001 is re-applied
	// to prove the migrations are idempotent.
	s.Require().NoError(Migrate(s.ctx, s.db))
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM alerts")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM seen_listings")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM search_state")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) TestSeenStore_EmptyOnFirstRun() {
	store := NewSeenStore(s.db)

	ok, err := store.Contains(s.ctx, "se_1")
	s.NoError(err)
	s.False(ok)

	ids, err := store.AllIDs(s.ctx)
	s.NoError(err)
	s.Empty(ids)
}

func (s *PostgresIntegrationSuite) TestSeenStore_InsertIsIdempotent() {
	store := NewSeenStore(s.db)
	first := time.Now().UTC().Truncate(time.Microsecond)

	inserted, err := store.Insert(s.ctx, domain.SeenRecord{ListingID: "se_1", FirstSeenAt: first})
	s.NoError(err)
	s.True(inserted)

	inserted, err = store.Insert(s.ctx, domain.SeenRecord{ListingID: "se_1", FirstSeenAt: first.Add(time.Hour)})
	s.NoError(err)
	s.False(inserted)

	rec, err := store.Get(s.ctx, "se_1")
	s.NoError(err)
	s.Require().NotNil(rec)
	s.WithinDuration(first, rec.FirstSeenAt, time.Millisecond)

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM seen_listings"))
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestSeenStore_ContainsBatch() {
	store := NewSeenStore(s.db)
	now := time.Now()

	for _, id := range []string{"se_1", "se_2"} {
		_, err := store.Insert(s.ctx, domain.SeenRecord{ListingID: id, FirstSeenAt: now})
		s.NoError(err)
	}

	present, err := store.ContainsBatch(s.ctx, []string{"se_1", "se_2", "se_3"})
	s.NoError(err)
	s.Len(present, 2)
	s.Contains(present, "se_1")
	s.Contains(present, "se_2")
	s.NotContains(present, "se_3")

	present, err = store.ContainsBatch(s.ctx, nil)
	s.NoError(err)
	s.Empty(present)
}

func (s *PostgresIntegrationSuite) TestSeenStore_GetUnknown() {
	rec, err := NewSeenStore(s.db).Get(s.ctx, "se_missing")
	s.NoError(err)
	s.Nil(rec)
}

func (s *PostgresIntegrationSuite) TestSeenStore_Reset() {
	store := NewSeenStore(s.db)
	_, err := store.Insert(s.ctx, domain.SeenRecord{ListingID: "se_1", FirstSeenAt: time.Now()})
	s.NoError(err)

	s.NoError(store.Reset(s.ctx))

	ids, err := store.AllIDs(s.ctx)
	s.NoError(err)
	s.Empty(ids)
}

func (s *PostgresIntegrationSuite) TestAlertStore_RecordAndList() {
	store := NewAlertStore(s.db)
	runID := uuid.New()
	sentAt := time.Now().UTC().Truncate(time.Microsecond)

	digest := domain.Digest{
		Subject:    "Apartment finder: 2 new listings, 1 with laundry",
		ListingIDs: []string{"se_1", "se_2"},
	}
	s.NoError(store.Record(s.ctx, runID, sentAt, digest))

	alerts, err := store.ListByRun(s.ctx, runID)
	s.NoError(err)
	s.Require().Len(alerts, 2)
	s.Equal("se_1", alerts[0].ListingID)
	s.Equal("se_2", alerts[1].ListingID)
	s.Equal(alertNewListing, alerts[0].AlertType)
	s.Equal(digest.Subject, alerts[1].Message)
	s.Equal(runID, alerts[0].RunID)

	other, err := store.ListByRun(s.ctx, uuid.New())
	s.NoError(err)
	s.Empty(other)
}

func (s *PostgresIntegrationSuite) TestAlertStore_RecordEmptyDigest() {
	store := NewAlertStore(s.db)
	s.NoError(store.Record(s.ctx, uuid.New(), time.Now(), domain.Digest{}))

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM alerts"))
	s.Zero(count)
}

func (s *PostgresIntegrationSuite) TestSearchStateStore_GetNew() {
	store := NewSearchStateStore(s.db)

	state, err := store.Get(s.ctx, "crown-heights")
	s.NoError(err)
	s.NotNil(state)
	s.Equal("crown-heights", state.SearchName)
	s.True(state.LastRunAt.IsZero())
	s.Equal(int64(0), state.TotalNew)
}

func (s *PostgresIntegrationSuite) TestSearchStateStore_UpdateExisting() {
	store := NewSearchStateStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	state := &domain.SearchState{SearchName: "crown-heights", LastRunAt: now, LastScraped: 12, TotalNew: 3}
	s.NoError(store.Update(s.ctx, state))

	state.LastScraped = 9
	state.TotalNew = 5
	s.NoError(store.Update(s.ctx, state))

	retrieved, err := store.Get(s.ctx, "crown-heights")
	s.NoError(err)
	s.Equal(9, retrieved.LastScraped)
	s.Equal(int64(5), retrieved.TotalNew)
	s.WithinDuration(now, retrieved.LastRunAt, time.Second)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	alerts := NewAlertStore(s.db)
	states := NewSearchStateStore(s.db)
	runID := uuid.New()

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := alerts.Record(ctx, runID, time.Now(), domain.Digest{Subject: "s", ListingIDs: []string{"se_1"}}); err != nil {
			return err
		}
		return states.Update(ctx, &domain.SearchState{SearchName: "a", LastRunAt: time.Now(), TotalNew: 1})
	})
	s.NoError(err)

	recorded, err := alerts.ListByRun(s.ctx, runID)
	s.NoError(err)
	s.Len(recorded, 1)

	state, err := states.Get(s.ctx, "a")
	s.NoError(err)
	s.Equal(int64(1), state.TotalNew)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	alerts := NewAlertStore(s.db)
	runID := uuid.New()

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := alerts.Record(ctx, runID, time.Now(), domain.Digest{Subject: "s", ListingIDs: []string{"se_1"}}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	s.Error(err)

	recorded, err := alerts.ListByRun(s.ctx, runID)
	s.NoError(err)
	s.Empty(recorded)
}

func (s *PostgresIntegrationSuite) TestClassify_CorruptionClass() {
	err := classify(&pq.Error{Code: "XX001", Message: "invalid page in block"})
	s.ErrorIs(err, domain.ErrStoreCorrupt)

	plain := errors.New("connection refused")
	s.Equal(plain, classify(plain))
}
