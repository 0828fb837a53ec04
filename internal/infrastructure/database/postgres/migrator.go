package postgres

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/turtacn/plankton-batchedit/internal/config"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// schemaMigrator is the part of *migrate.Migrate the Migrator drives.
type schemaMigrator interface {
	Up() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Close() (error, error)
}

func openMigrate(source, dsn string) (schemaMigrator, error) {
	m, err := migrate.New(source, dsn)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SchemaState is the applied migration version of the batch-edit schema.
// Dirty means a migration failed half way and needs Force.
type SchemaState struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

// Migrator applies the numbered datasets/aliases/reference-library migrations
// under database.migration_path to the configured database.
type Migrator struct {
	dsn    string
	source string
	logger logging.Logger
	open   func(source, dsn string) (schemaMigrator, error)
}

// MigrationSource turns a directory into a golang-migrate source URL. Values
// that already carry a scheme are returned unchanged and an empty path
// selects the bundled migrations/postgres set.
func MigrationSource(path string) string {
	if path == "" {
		path = config.DefaultDBMigrationPath
	}
	if strings.Contains(path, "://") {
		return path
	}
	return "file://" + path
}

// NewMigrator builds a Migrator for cfg.
func NewMigrator(cfg config.DatabaseConfig, log logging.Logger) *Migrator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Migrator{
		dsn:    DSN(cfg),
		source: MigrationSource(cfg.MigrationPath),
		logger: log.Named("migrator"),
		open:   openMigrate,
	}
}

// Source returns the migration source URL in use.
func (m *Migrator) Source() string { return m.source }

func (m *Migrator) with(action string, fn func(schemaMigrator) error) error {
	sm, err := m.open(m.source, m.dsn)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to open migrations").WithDetail(m.source)
	}
	defer func() {
		if srcErr, dbErr := sm.Close(); srcErr != nil || dbErr != nil {
			m.logger.Warn("Migration close failed", logging.String("action", action),
				logging.Err(stderrors.Join(srcErr, dbErr)))
		}
	}()
	return fn(sm)
}

// Up applies every pending migration. Nothing pending is not an error.
func (m *Migrator) Up() error {
	return m.with("up", func(sm schemaMigrator) error {
		if err := sm.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to apply migrations")
		}
		version, dirty, _ := sm.Version()
		m.logger.Info("Schema up to date", logging.Int64("version", int64(version)), logging.Bool("dirty", dirty))
		return nil
	})
}

// Down reverts the last steps migrations.
func (m *Migrator) Down(steps int) error {
	if steps <= 0 {
		return errors.InvalidParam("steps must be greater than 0").WithDetail(fmt.Sprint(steps))
	}
	return m.with("down", func(sm schemaMigrator) error {
		if err := sm.Steps(-steps); err != nil {
			if stderrors.Is(err, migrate.ErrNoChange) {
				return errors.New(errors.ErrCodeConflict, "no migrations to roll back")
			}
			return errors.Wrap(err, errors.ErrCodeDatabaseError, fmt.Sprintf("failed to roll back %d step(s)", steps))
		}
		m.logger.Info("Schema rolled back", logging.Int("steps", steps))
		return nil
	})
}

// Status reports the applied version. A fresh database is version 0.
func (m *Migrator) Status() (SchemaState, error) {
	var st SchemaState
	err := m.with("status", func(sm schemaMigrator) error {
		version, dirty, err := sm.Version()
		if stderrors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to read schema version")
		}
		st = SchemaState{Version: version, Dirty: dirty}
		return nil
	})
	return st, err
}

// Force records version as applied without running it and clears the dirty
// flag.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return errors.InvalidParam("version must not be negative").WithDetail(fmt.Sprint(version))
	}
	return m.with("force", func(sm schemaMigrator) error {
		if err := sm.Force(version); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, fmt.Sprintf("failed to force version %d", version))
		}
		m.logger.Warn("Schema version forced", logging.Int("version", version))
		return nil
	})
}
