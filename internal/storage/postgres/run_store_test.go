package postgres

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-job-postings/internal/ingest"
)

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	start := time.Unix(1700000000, 0).UTC()
	run := ingest.Run{
		ID:         "run-1",
		Kind:       ingest.KindIngest,
		Status:     ingest.StatusSucceeded,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Result:     ingest.Result{Processed: 5, Inserted: 3, Duplicates: 1, Malformed: 1},
	}

	mock.ExpectExec("INSERT INTO ingest_runs").
		WithArgs(run.ID, run.Kind, run.Status, run.StartedAt, run.FinishedAt, 5, 3, 1, 1, 0, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	assert.ErrorContains(t, store.RecordRun(context.Background(), ingest.Run{}), "run id is required")

	mock.ExpectExec("INSERT INTO runs").WillReturnError(errors.New("connection reset"))
	err = store.RecordRun(context.Background(), ingest.Run{ID: "r"})
	assert.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "kind", "status", "started_at", "finished_at",
		"processed", "inserted", "duplicates", "malformed", "cache_hits", "error",
	}).
		AddRow("run-2", "rebuild", "succeeded", at.Add(time.Hour), at.Add(time.Hour), 0, 0, 0, 0, 0, "").
		AddRow("run-1", "ingest", "failed", at, at, 4, 1, 2, 1, 0, "boom")
	mock.ExpectQuery("SELECT id, kind, status").WithArgs(20).WillReturnRows(rows)

	runs, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, 2, runs[1].Result.Duplicates)
	assert.Equal(t, "boom", runs[1].Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	assert.Error(t, err)
	_, err = NewRunStore(context.Background(), RunStoreConfig{})
	assert.ErrorContains(t, err, "database.dsn is required")
}

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pgx5://u:p@db:5432/jobs?sslmode=disable", MigrateURL("postgres://u:p@db:5432/jobs?sslmode=disable"))
	assert.Equal(t, "pgx5://db/jobs", MigrateURL("postgresql://db/jobs"))
	assert.Equal(t, "pgx5://db/jobs", MigrateURL("pgx5://db/jobs"))
}

func TestMigrationsAreEmbedded(t *testing.T) {
	t.Parallel()

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"migrations/000001_ingest_runs.up.sql",
		"migrations/000001_ingest_runs.down.sql",
	}, names)
}
