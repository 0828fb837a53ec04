package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/database/postgres"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// sqlExecutor is satisfied by both *sql.DB and *sql.Tx so every query runs
// inside the bound transaction when there is one.
type sqlExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// libraryRow is a single *sql.Row lookup or one step of *sql.Rows, so the
// wet-weight and taxonomy decoders serve Get and List alike.
type libraryRow interface {
	Scan(dest ...any) error
}

// ReferenceRepository implements the alias table and the custom wet-weight
// and taxonomy libraries over database/sql.
type ReferenceRepository struct {
	conn *postgres.Connection
	tx   *sql.Tx
	log  logging.Logger
	now  func() time.Time
}

// NewReferenceRepository builds the repository on conn.
func NewReferenceRepository(conn *postgres.Connection, log logging.Logger) *ReferenceRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ReferenceRepository{conn: conn, log: log.Named("reference_repo"), now: time.Now}
}

// WithTx returns a copy bound to tx.
func (r *ReferenceRepository) WithTx(tx *sql.Tx) *ReferenceRepository {
	cp := *r
	cp.tx = tx
	return &cp
}

func (r *ReferenceRepository) executor() sqlExecutor {
	if r.tx != nil {
		return r.tx
	}
	return r.conn.DB()
}

// --- aliases ---

// ListAliases implements reference.AliasStore.
func (r *ReferenceRepository) ListAliases(ctx context.Context) ([]reference.Alias, error) {
	rows, err := r.executor().QueryContext(ctx,
		`SELECT alias, canonical, updated_at FROM aliases ORDER BY alias`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list aliases")
	}
	defer rows.Close()

	var out []reference.Alias
	for rows.Next() {
		var a reference.Alias
		if err := rows.Scan(&a.Alias, &a.Canonical, &a.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan alias")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAlias implements reference.AliasStore.
func (r *ReferenceRepository) UpsertAlias(ctx context.Context, a reference.Alias) error {
	key := strings.TrimSpace(a.Alias)
	canonical := strings.TrimSpace(a.Canonical)
	if key == "" || canonical == "" {
		return errors.InvalidParam("alias and canonical are required")
	}
	_, err := r.executor().ExecContext(ctx, `
		INSERT INTO aliases (alias, canonical, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (alias) DO UPDATE SET canonical = EXCLUDED.canonical, updated_at = EXCLUDED.updated_at`,
		key, canonical, r.now().UTC())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to upsert alias")
	}
	return nil
}

// DeleteAlias implements reference.AliasStore.
func (r *ReferenceRepository) DeleteAlias(ctx context.Context, alias string) error {
	if _, err := r.executor().ExecContext(ctx, `DELETE FROM aliases WHERE alias = $1`, strings.TrimSpace(alias)); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete alias")
	}
	return nil
}

// --- wet weights ---

// FindWetWeight implements reference.WetWeightLibrary.
func (r *ReferenceRepository) FindWetWeight(ctx context.Context, nameCn string) (*reference.WetWeightEntry, error) {
	row := r.executor().QueryRowContext(ctx, `
		SELECT name_cn, name_latin, wet_weight_mg, group_name, sub_name, origin, updated_at
		FROM wetweights_custom WHERE name_cn = $1`, strings.TrimSpace(nameCn))
	e, err := scanWetWeight(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load wet weight")
	}
	return e, nil
}

// ListWetWeightNames implements reference.WetWeightLibrary.
func (r *ReferenceRepository) ListWetWeightNames(ctx context.Context) ([]string, error) {
	return r.listNames(ctx, `SELECT name_cn FROM wetweights_custom ORDER BY name_cn`)
}

// UpsertWetWeight implements reference.WetWeightLibrary.
func (r *ReferenceRepository) UpsertWetWeight(ctx context.Context, e reference.WetWeightEntry) error {
	key := strings.TrimSpace(e.NameCn)
	if key == "" {
		return errors.InvalidParam("nameCn is required")
	}
	origin := e.Origin
	if origin == "" {
		origin = reference.OriginManual
	}
	_, err := r.executor().ExecContext(ctx, `
		INSERT INTO wetweights_custom (name_cn, name_latin, wet_weight_mg, group_name, sub_name, origin, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name_cn) DO UPDATE SET
			name_latin    = EXCLUDED.name_latin,
			wet_weight_mg = EXCLUDED.wet_weight_mg,
			group_name    = EXCLUDED.group_name,
			sub_name      = EXCLUDED.sub_name,
			origin        = EXCLUDED.origin,
			updated_at    = EXCLUDED.updated_at`,
		key, e.NameLatin, e.WetWeightMg, e.GroupName, e.SubName, origin, r.now().UTC())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to upsert wet weight")
	}
	return nil
}

func scanWetWeight(row libraryRow) (*reference.WetWeightEntry, error) {
	var e reference.WetWeightEntry
	if err := row.Scan(&e.NameCn, &e.NameLatin, &e.WetWeightMg, &e.GroupName, &e.SubName, &e.Origin, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- taxonomies ---

// FindTaxonomy implements reference.TaxonomyLibrary.
func (r *ReferenceRepository) FindTaxonomy(ctx context.Context, nameCn string) (*reference.TaxonomyRecord, error) {
	row := r.executor().QueryRowContext(ctx, `
		SELECT name_cn, name_latin, lvl1, lvl2, lvl3, lvl4, lvl5, updated_at
		FROM taxonomies_custom WHERE name_cn = $1`, strings.TrimSpace(nameCn))
	rec, err := scanTaxonomy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load taxonomy")
	}
	return rec, nil
}

// ListTaxonomyNames implements reference.TaxonomyLibrary.
func (r *ReferenceRepository) ListTaxonomyNames(ctx context.Context) ([]string, error) {
	return r.listNames(ctx, `SELECT name_cn FROM taxonomies_custom ORDER BY name_cn`)
}

// UpsertTaxonomy implements reference.TaxonomyLibrary.
func (r *ReferenceRepository) UpsertTaxonomy(ctx context.Context, rec reference.TaxonomyRecord) error {
	key := strings.TrimSpace(rec.NameCn)
	if key == "" {
		return errors.InvalidParam("nameCn is required")
	}
	t := rec.Taxonomy
	_, err := r.executor().ExecContext(ctx, `
		INSERT INTO taxonomies_custom (name_cn, name_latin, lvl1, lvl2, lvl3, lvl4, lvl5, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name_cn) DO UPDATE SET
			name_latin = EXCLUDED.name_latin,
			lvl1 = EXCLUDED.lvl1, lvl2 = EXCLUDED.lvl2, lvl3 = EXCLUDED.lvl3,
			lvl4 = EXCLUDED.lvl4, lvl5 = EXCLUDED.lvl5,
			updated_at = EXCLUDED.updated_at`,
		key, rec.NameLatin, t.Lvl1, t.Lvl2, t.Lvl3, t.Lvl4, t.Lvl5, r.now().UTC())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to upsert taxonomy")
	}
	return nil
}

func scanTaxonomy(row libraryRow) (*reference.TaxonomyRecord, error) {
	var rec reference.TaxonomyRecord
	var t dataset.Taxonomy
	if err := row.Scan(&rec.NameCn, &rec.NameLatin, &t.Lvl1, &t.Lvl2, &t.Lvl3, &t.Lvl4, &t.Lvl5, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Taxonomy = t
	return &rec, nil
}

func (r *ReferenceRepository) listNames(ctx context.Context, query string) ([]string, error) {
	rows, err := r.executor().QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list names")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan name")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
