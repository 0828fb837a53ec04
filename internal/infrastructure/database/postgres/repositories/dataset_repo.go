package repositories

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// DatasetRepository stores each dataset as one JSONB document with the
// list-view columns projected next to it.
type DatasetRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewDatasetRepository returns a dataset.Repository backed by pool.
func NewDatasetRepository(pool *pgxpool.Pool, log logging.Logger) *DatasetRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &DatasetRepository{pool: pool, logger: log.Named("dataset_repo")}
}

const upsertDatasetSQL = `
	INSERT INTO datasets (
		id, title_prefix, created_at, updated_at, read_only,
		snapshot_at, snapshot_source_id, points_count, species_count, doc
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (id) DO UPDATE SET
		title_prefix       = EXCLUDED.title_prefix,
		updated_at         = EXCLUDED.updated_at,
		read_only          = EXCLUDED.read_only,
		snapshot_at        = EXCLUDED.snapshot_at,
		snapshot_source_id = EXCLUDED.snapshot_source_id,
		points_count       = EXCLUDED.points_count,
		species_count      = EXCLUDED.species_count,
		doc                = EXCLUDED.doc`

// Save implements dataset.Repository.
func (r *DatasetRepository) Save(ctx context.Context, d *dataset.Dataset) error {
	if err := d.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatasetInvalid, "invalid dataset")
	}
	doc, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode dataset")
	}
	_, err = r.pool.Exec(ctx, upsertDatasetSQL,
		d.ID, d.TitlePrefix, d.CreatedAt, d.UpdatedAt, d.ReadOnly,
		d.SnapshotAt, d.SnapshotSourceID, len(d.Points), len(d.Species), doc,
	)
	if err != nil {
		r.logger.Error("Failed to save dataset", logging.DatasetID(d.ID), logging.Err(err))
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save dataset")
	}
	return nil
}

// Get implements dataset.Repository.
func (r *DatasetRepository) Get(ctx context.Context, id string) (*dataset.Dataset, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM datasets WHERE id = $1`, id).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, errors.New(errors.ErrCodeDatasetNotFound, "dataset not found").WithDetail(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load dataset")
	}
	return decodeDataset(doc)
}

// Delete implements dataset.Repository.
func (r *DatasetRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete dataset")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrCodeDatasetNotFound, "dataset not found").WithDetail(id)
	}
	return nil
}

// List implements dataset.Repository, newest first.
func (r *DatasetRepository) List(ctx context.Context, limit, offset int) ([]dataset.Summary, int64, error) {
	limit, offset = normalizePage(limit, offset)

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count datasets")
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, title_prefix, created_at, updated_at, read_only,
		       snapshot_at, snapshot_source_id, points_count, species_count
		FROM datasets
		ORDER BY updated_at DESC, id ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list datasets")
	}
	defer rows.Close()

	out := make([]dataset.Summary, 0, limit)
	for rows.Next() {
		var s dataset.Summary
		if err := rows.Scan(&s.ID, &s.TitlePrefix, &s.CreatedAt, &s.UpdatedAt, &s.ReadOnly,
			&s.SnapshotAt, &s.SnapshotSourceID, &s.PointsCount, &s.SpeciesCount); err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan dataset summary")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate datasets")
	}
	return out, total, nil
}

func decodeDataset(doc []byte) (*dataset.Dataset, error) {
	var d dataset.Dataset
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode dataset")
	}
	if d.Species == nil {
		d.Species = []dataset.Species{}
	}
	return &d, nil
}

// normalizePage clamps list paging to 1..500 rows.
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
