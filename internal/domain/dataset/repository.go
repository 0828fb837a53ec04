package dataset

import (
	"context"
)

// Repository persists dataset documents. Implementations return an AppError
// with ErrCodeDatasetNotFound for unknown ids.
type Repository interface {
	Get(ctx context.Context, id string) (*Dataset, error)
	Save(ctx context.Context, d *Dataset) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]Summary, int64, error)
}
