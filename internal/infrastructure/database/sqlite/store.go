// Package sqlite is the on-device store: datasets, the alias table, the
// custom reference libraries and the species-info cache in one SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/turtacn/plankton-batchedit/internal/config"
	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/plankton-batchedit/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	id                 TEXT PRIMARY KEY,
	title_prefix       TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	read_only          INTEGER NOT NULL DEFAULT 0,
	snapshot_at        TEXT,
	snapshot_source_id TEXT NOT NULL DEFAULT '',
	points_count       INTEGER NOT NULL DEFAULT 0,
	species_count      INTEGER NOT NULL DEFAULT 0,
	doc                TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_datasets_updated_at ON datasets (updated_at);
CREATE TABLE IF NOT EXISTS aliases (
	alias      TEXT PRIMARY KEY,
	canonical  TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS wetweights_custom (
	name_cn       TEXT PRIMARY KEY,
	name_latin    TEXT NOT NULL DEFAULT '',
	wet_weight_mg REAL NOT NULL,
	group_name    TEXT NOT NULL DEFAULT '',
	sub_name      TEXT NOT NULL DEFAULT '',
	origin        TEXT NOT NULL DEFAULT 'manual',
	updated_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS taxonomies_custom (
	name_cn    TEXT PRIMARY KEY,
	name_latin TEXT NOT NULL DEFAULT '',
	lvl1       TEXT NOT NULL DEFAULT '',
	lvl2       TEXT NOT NULL DEFAULT '',
	lvl3       TEXT NOT NULL DEFAULT '',
	lvl4       TEXT NOT NULL DEFAULT '',
	lvl5       TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS species_info_cache (
	api_tag    TEXT NOT NULL,
	name_cn    TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (api_tag, name_cn)
);`

// timeLayout is fixed width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements dataset.Repository, the reference stores and the
// species-info cache on database/sql with the modernc driver.
type Store struct {
	db     *sql.DB
	path   string
	logger logging.Logger
	now    func() time.Time
}

// Open creates the file (and parent directories) when missing and applies
// the schema.
func Open(cfg config.SQLiteConfig, log logging.Logger) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = "plankton.db"
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "open sqlite")
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "create schema")
	}
	log.Info("SQLite store opened", logging.String("path", path))
	return &Store{db: db, path: path, logger: log.Named("sqlite"), now: time.Now}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the handle for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func dbErr(err error, msg string) error {
	return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, msg)
}

// --- datasets ---

// Save implements dataset.Repository.
func (s *Store) Save(ctx context.Context, d *dataset.Dataset) error {
	if err := d.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatasetInvalid, "invalid dataset")
	}
	doc, err := json.Marshal(d)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to encode dataset")
	}
	var snapshotAt sql.NullString
	if d.SnapshotAt != nil {
		snapshotAt = sql.NullString{String: d.SnapshotAt.UTC().Format(timeLayout), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO datasets (id, title_prefix, created_at, updated_at, read_only,
			snapshot_at, snapshot_source_id, points_count, species_count, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title_prefix = excluded.title_prefix,
			updated_at = excluded.updated_at,
			read_only = excluded.read_only,
			snapshot_at = excluded.snapshot_at,
			snapshot_source_id = excluded.snapshot_source_id,
			points_count = excluded.points_count,
			species_count = excluded.species_count,
			doc = excluded.doc`,
		d.ID, d.TitlePrefix, d.CreatedAt.UTC().Format(timeLayout), d.UpdatedAt.UTC().Format(timeLayout),
		d.ReadOnly, snapshotAt, d.SnapshotSourceID, len(d.Points), len(d.Species), string(doc))
	if err != nil {
		s.logger.Error("Failed to save dataset", logging.DatasetID(d.ID), logging.Err(err))
		return dbErr(err, "failed to save dataset")
	}
	return nil
}

// Get implements dataset.Repository.
func (s *Store) Get(ctx context.Context, id string) (*dataset.Dataset, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM datasets WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrCodeDatasetNotFound, "dataset not found").WithDetail(id)
	}
	if err != nil {
		return nil, dbErr(err, "failed to load dataset")
	}
	var d dataset.Dataset
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to decode dataset")
	}
	if d.Species == nil {
		d.Species = []dataset.Species{}
	}
	return &d, nil
}

// Delete implements dataset.Repository.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return dbErr(err, "failed to delete dataset")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrCodeDatasetNotFound, "dataset not found").WithDetail(id)
	}
	return nil
}

// List implements dataset.Repository, newest first. A non-positive limit
// returns every row after offset.
func (s *Store) List(ctx context.Context, limit, offset int) ([]dataset.Summary, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&total); err != nil {
		return nil, 0, dbErr(err, "failed to count datasets")
	}
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title_prefix, created_at, updated_at, read_only,
		       snapshot_at, snapshot_source_id, points_count, species_count
		FROM datasets ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, dbErr(err, "failed to list datasets")
	}
	defer func() { _ = rows.Close() }()

	out := []dataset.Summary{}
	for rows.Next() {
		var (
			sum              dataset.Summary
			created, updated string
			snapshotAt       sql.NullString
		)
		if err := rows.Scan(&sum.ID, &sum.TitlePrefix, &created, &updated, &sum.ReadOnly,
			&snapshotAt, &sum.SnapshotSourceID, &sum.PointsCount, &sum.SpeciesCount); err != nil {
			return nil, 0, dbErr(err, "failed to scan dataset summary")
		}
		sum.CreatedAt = parseTime(created)
		sum.UpdatedAt = parseTime(updated)
		if snapshotAt.Valid {
			t := parseTime(snapshotAt.String)
			sum.SnapshotAt = &t
		}
		out = append(out, sum)
	}
	return out, total, rows.Err()
}

// --- aliases ---

// ListAliases implements reference.AliasStore.
func (s *Store) ListAliases(ctx context.Context) ([]reference.Alias, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT alias, canonical, updated_at FROM aliases ORDER BY alias`)
	if err != nil {
		return nil, dbErr(err, "failed to list aliases")
	}
	defer func() { _ = rows.Close() }()

	var out []reference.Alias
	for rows.Next() {
		var a reference.Alias
		var updated string
		if err := rows.Scan(&a.Alias, &a.Canonical, &updated); err != nil {
			return nil, dbErr(err, "failed to scan alias")
		}
		a.UpdatedAt = parseTime(updated)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAlias implements reference.AliasStore.
func (s *Store) UpsertAlias(ctx context.Context, a reference.Alias) error {
	key, canonical := strings.TrimSpace(a.Alias), strings.TrimSpace(a.Canonical)
	if key == "" || canonical == "" {
		return apperrors.InvalidParam("alias and canonical are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aliases (alias, canonical, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET canonical = excluded.canonical, updated_at = excluded.updated_at`,
		key, canonical, s.stamp())
	if err != nil {
		return dbErr(err, "failed to upsert alias")
	}
	return nil
}

// DeleteAlias implements reference.AliasStore.
func (s *Store) DeleteAlias(ctx context.Context, alias string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM aliases WHERE alias = ?`, strings.TrimSpace(alias)); err != nil {
		return dbErr(err, "failed to delete alias")
	}
	return nil
}

// --- wet weights ---

// FindWetWeight implements reference.WetWeightLibrary.
func (s *Store) FindWetWeight(ctx context.Context, nameCn string) (*reference.WetWeightEntry, error) {
	var e reference.WetWeightEntry
	var updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT name_cn, name_latin, wet_weight_mg, group_name, sub_name, origin, updated_at
		FROM wetweights_custom WHERE name_cn = ?`, strings.TrimSpace(nameCn)).
		Scan(&e.NameCn, &e.NameLatin, &e.WetWeightMg, &e.GroupName, &e.SubName, &e.Origin, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr(err, "failed to load wet weight")
	}
	e.UpdatedAt = parseTime(updated)
	return &e, nil
}

// ListWetWeightNames implements reference.WetWeightLibrary.
func (s *Store) ListWetWeightNames(ctx context.Context) ([]string, error) {
	return s.listNames(ctx, `SELECT name_cn FROM wetweights_custom ORDER BY name_cn`)
}

// UpsertWetWeight implements reference.WetWeightLibrary.
func (s *Store) UpsertWetWeight(ctx context.Context, e reference.WetWeightEntry) error {
	key := strings.TrimSpace(e.NameCn)
	if key == "" {
		return apperrors.InvalidParam("nameCn is required")
	}
	origin := e.Origin
	if origin == "" {
		origin = reference.OriginManual
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wetweights_custom (name_cn, name_latin, wet_weight_mg, group_name, sub_name, origin, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name_cn) DO UPDATE SET
			name_latin = excluded.name_latin,
			wet_weight_mg = excluded.wet_weight_mg,
			group_name = excluded.group_name,
			sub_name = excluded.sub_name,
			origin = excluded.origin,
			updated_at = excluded.updated_at`,
		key, e.NameLatin, e.WetWeightMg, e.GroupName, e.SubName, origin, s.stamp())
	if err != nil {
		return dbErr(err, "failed to upsert wet weight")
	}
	return nil
}

// --- taxonomies ---

// FindTaxonomy implements reference.TaxonomyLibrary.
func (s *Store) FindTaxonomy(ctx context.Context, nameCn string) (*reference.TaxonomyRecord, error) {
	var r reference.TaxonomyRecord
	var updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT name_cn, name_latin, lvl1, lvl2, lvl3, lvl4, lvl5, updated_at
		FROM taxonomies_custom WHERE name_cn = ?`, strings.TrimSpace(nameCn)).
		Scan(&r.NameCn, &r.NameLatin, &r.Taxonomy.Lvl1, &r.Taxonomy.Lvl2, &r.Taxonomy.Lvl3,
			&r.Taxonomy.Lvl4, &r.Taxonomy.Lvl5, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr(err, "failed to load taxonomy")
	}
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}

// ListTaxonomyNames implements reference.TaxonomyLibrary.
func (s *Store) ListTaxonomyNames(ctx context.Context) ([]string, error) {
	return s.listNames(ctx, `SELECT name_cn FROM taxonomies_custom ORDER BY name_cn`)
}

// UpsertTaxonomy implements reference.TaxonomyLibrary.
func (s *Store) UpsertTaxonomy(ctx context.Context, r reference.TaxonomyRecord) error {
	key := strings.TrimSpace(r.NameCn)
	if key == "" {
		return apperrors.InvalidParam("nameCn is required")
	}
	t := r.Taxonomy
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO taxonomies_custom (name_cn, name_latin, lvl1, lvl2, lvl3, lvl4, lvl5, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name_cn) DO UPDATE SET
			name_latin = excluded.name_latin,
			lvl1 = excluded.lvl1, lvl2 = excluded.lvl2, lvl3 = excluded.lvl3,
			lvl4 = excluded.lvl4, lvl5 = excluded.lvl5,
			updated_at = excluded.updated_at`,
		key, r.NameLatin, t.Lvl1, t.Lvl2, t.Lvl3, t.Lvl4, t.Lvl5, s.stamp())
	if err != nil {
		return dbErr(err, "failed to upsert taxonomy")
	}
	return nil
}

func (s *Store) listNames(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, dbErr(err, "failed to list names")
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, dbErr(err, "failed to scan name")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- species info cache ---

// GetSpeciesInfo implements reference.SpeciesInfoCache.
func (s *Store) GetSpeciesInfo(ctx context.Context, apiTag, nameCn string) (*reference.CachedSpeciesInfo, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM species_info_cache WHERE api_tag = ? AND name_cn = ?`,
		apiTag, strings.TrimSpace(nameCn)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr(err, "failed to read species info")
	}
	var e reference.CachedSpeciesInfo
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		s.logger.Warn("Dropping undecodable species info entry",
			logging.String("api_tag", apiTag), logging.String("name", nameCn), logging.Err(err))
		return nil, nil
	}
	return &e, nil
}

// PutSpeciesInfo implements reference.SpeciesInfoCache.
func (s *Store) PutSpeciesInfo(ctx context.Context, e reference.CachedSpeciesInfo) error {
	name := strings.TrimSpace(e.NameCn)
	if strings.TrimSpace(e.APITag) == "" || name == "" {
		return apperrors.InvalidParam("apiTag and nameCn are required")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to encode species info")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO species_info_cache (api_tag, name_cn, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(api_tag, name_cn) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		e.APITag, name, string(payload), s.stamp())
	if err != nil {
		return dbErr(err, "failed to write species info")
	}
	return nil
}

// Clear implements reference.SpeciesInfoCache.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM species_info_cache`)
	if err != nil {
		return 0, dbErr(err, "failed to clear species info")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
