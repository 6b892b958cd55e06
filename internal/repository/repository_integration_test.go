package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/rpattn/dataforge/internal/db"
	"github.com/rpattn/dataforge/internal/domain"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("dataforge"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %s", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := db.Config{
		Host:     host,
		Port:     port.Int(),
		User:     "user",
		Password: "password",
		DBName:   "dataforge",
		SSLMode:  "disable",
	}
	require.NoError(t, db.RunMigrations(cfg, zaptest.NewLogger(t)))

	conn, err := db.NewConnection(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn.Pool
}

func TestPostgresRepositories(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	t.Run("ingestion log round trip", func(t *testing.T) {
		repo := NewIngestionLogRepository(pool)
		row := 4
		require.NoError(t, repo.Record(ctx, domain.IngestionLogEntry{
			FileID:    "survey",
			FileName:  "survey.csv",
			RowNumber: &row,
			Message:   "expected 5 fields, found 4",
		}))
		require.NoError(t, repo.Record(ctx, domain.IngestionLogEntry{FileID: "other", FileName: "o.csv", Message: "x"}))

		entries, err := repo.List(ctx, "survey", 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "survey.csv", entries[0].FileName)
		require.NotNil(t, entries[0].RowNumber)
		assert.Equal(t, 4, *entries[0].RowNumber)
		assert.False(t, entries[0].CreatedAt.IsZero())
	})

	t.Run("transformation run round trip", func(t *testing.T) {
		repo := NewTransformationLogRepository(pool)
		sessionID := uuid.New()
		entries := []domain.LogEntry{
			{FileID: "survey", OriginalIndex: 0, RowIdentifier: "PSM-1", Field: "Lat", OriginalValue: "4:26:17.74208N", TransformedValue: 4.438261688888889, Status: domain.LogStatusTransformed},
			{FileID: "survey", OriginalIndex: 1, RowIdentifier: "PSM-2", Field: "Lat, Long", Status: domain.LogStatusPendingProjectionZone, RequiresExternalInput: true},
		}

		run, err := repo.SaveRun(ctx, domain.TransformationRun{
			SessionID: sessionID,
			Summary:   domain.Summary{TotalRows: 2, CompleteRows: 1, NeedsZoneRows: 1, PendingGroupKeys: []string{}},
		}, entries)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, run.ID)

		runs, err := repo.ListRuns(ctx, sessionID, 5)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, 1, runs[0].Summary.NeedsZoneRows)

		stored, err := repo.ListEntries(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, "4:26:17.74208N", stored[0].OriginalValue)
		assert.InDelta(t, 4.438261688888889, stored[0].TransformedValue, 1e-12)
		assert.Nil(t, stored[1].TransformedValue)
		assert.True(t, stored[1].RequiresExternalInput)
		assert.Equal(t, domain.LogStatusPendingProjectionZone, stored[1].Status)
	})
}
