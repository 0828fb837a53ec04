//go:build integration

// Package repositories_test runs the PostgreSQL repositories against a real
// server. Tests require Docker and are gated behind the "integration" build
// tag.
package repositories_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/plankton-batchedit/internal/config"
	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/database/postgres"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

func migrationsPath(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	dir := filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "..", "migrations", "postgres")
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	return "file://" + abs
}

// startPostgres launches a PostgreSQL 16 container, migrates it and returns
// both connection flavours.
func startPostgres(t *testing.T) (*pgxpool.Pool, *postgres.Connection) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "plankton_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/plankton_test?sslmode=disable", host, port.Port())

	migrator := postgres.NewMigrator(config.DatabaseConfig{
		Host:          host,
		Port:          port.Int(),
		User:          "test",
		Password:      "test",
		DBName:        "plankton_test",
		SSLMode:       "disable",
		MigrationPath: migrationsPath(t),
	}, logging.NewNopLogger())
	require.NoError(t, migrator.Up())
	// Already at the latest version, so a second run is a no-op.
	require.NoError(t, migrator.Up())
	state, err := migrator.Status()
	require.NoError(t, err)
	assert.Equal(t, postgres.SchemaState{Version: 1}, state)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	conn := postgres.NewConnectionWithDB(db, logging.NewNopLogger())
	t.Cleanup(func() { _ = conn.Close() })
	return pool, conn
}

func TestPostgresRepositories(t *testing.T) {
	pool, conn := startPostgres(t)
	ctx := context.Background()

	t.Run("dataset document round trip", func(t *testing.T) {
		repo := repositories.NewDatasetRepository(pool, logging.NewNopLogger())
		d := dataset.NewDataset("太湖", 20)
		d.EnsureSpecies("轮虫")
		d.Species[0].SetCount(d.Points[0].ID, 3)
		require.NoError(t, repo.Save(ctx, d))

		got, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Species[0].Count(d.Points[0].ID))

		d.TitlePrefix = "太湖-改"
		d.UpdatedAt = d.UpdatedAt.Add(time.Minute)
		require.NoError(t, repo.Save(ctx, d))

		snap := dataset.NewSnapshot(d, "批量编辑前", time.Now())
		require.NoError(t, repo.Save(ctx, snap))

		list, total, err := repo.List(ctx, 10, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
		require.Len(t, list, 2)
		readOnly := 0
		for _, s := range list {
			if s.ReadOnly {
				readOnly++
				assert.Equal(t, d.ID, s.SnapshotSourceID)
			}
			assert.Equal(t, 1, s.SpeciesCount)
		}
		assert.Equal(t, 1, readOnly)

		require.NoError(t, repo.Delete(ctx, snap.ID))
		_, err = repo.Get(ctx, snap.ID)
		assert.True(t, errors.IsCode(err, errors.ErrCodeDatasetNotFound))
		assert.True(t, errors.IsCode(repo.Delete(ctx, snap.ID), errors.ErrCodeDatasetNotFound))
	})

	t.Run("reference tables", func(t *testing.T) {
		repo := repositories.NewReferenceRepository(conn, logging.NewNopLogger())

		require.NoError(t, repo.UpsertAlias(ctx, reference.Alias{Alias: "轮虫", Canonical: "臂尾轮虫"}))
		require.NoError(t, repo.UpsertAlias(ctx, reference.Alias{Alias: "轮虫", Canonical: "晶囊轮虫"}))
		assert.Equal(t, map[string]string{"轮虫": "晶囊轮虫"}, reference.AliasMap(ctx, repo))
		require.NoError(t, repo.DeleteAlias(ctx, "轮虫"))
		assert.Empty(t, reference.AliasMap(ctx, repo))

		miss, err := repo.FindWetWeight(ctx, "桡足类")
		require.NoError(t, err)
		assert.Nil(t, miss)
		require.NoError(t, repo.UpsertWetWeight(ctx, reference.WetWeightEntry{
			NameCn: "桡足类", WetWeightMg: 0.05, Origin: reference.OriginAutoMatched,
		}))
		hit, err := repo.FindWetWeight(ctx, "桡足类")
		require.NoError(t, err)
		require.NotNil(t, hit)
		assert.InDelta(t, 0.05, hit.WetWeightMg, 1e-9)
		assert.Equal(t, reference.OriginAutoMatched, hit.Origin)

		require.NoError(t, repo.UpsertTaxonomy(ctx, reference.TaxonomyRecord{
			NameCn: "晶囊轮虫", Taxonomy: dataset.Taxonomy{Lvl1: "轮虫类", Lvl5: "晶囊轮虫属"},
		}))
		tax, err := repo.FindTaxonomy(ctx, "晶囊轮虫")
		require.NoError(t, err)
		require.NotNil(t, tax)
		assert.Equal(t, "轮虫类", tax.Taxonomy.Lvl1)

		names, err := repo.ListTaxonomyNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"晶囊轮虫"}, names)
	})

	t.Run("transaction rolls back", func(t *testing.T) {
		err := postgres.WithTransaction(ctx, pool, func(tx pgx.Tx, txCtx context.Context) error {
			_, err := tx.Exec(txCtx, `INSERT INTO aliases (alias, canonical) VALUES ('x', 'y')`)
			require.NoError(t, err)
			return errors.New(errors.ErrCodeInternal, "abort")
		})
		require.Error(t, err)
		var n int
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM aliases WHERE alias = 'x'`).Scan(&n))
		assert.Equal(t, 0, n)
	})
}
