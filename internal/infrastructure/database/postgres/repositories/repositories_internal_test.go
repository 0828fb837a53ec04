package repositories

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// valuesRow feeds fixed column values to Scan the way *sql.Row does.
type valuesRow struct {
	values []any
	err    error
}

func (r valuesRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *float64:
			*p = r.values[i].(float64)
		case *time.Time:
			*p = r.values[i].(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

func TestNewRepositories(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, NewDatasetRepository(nil, nil))
	assert.NotNil(t, NewReferenceRepository(nil, nil))
}

func TestNormalizePage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name                  string
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{"defaults", 0, 0, 50, 0},
		{"negative offset", 10, -3, 10, 0},
		{"capped", 10000, 20, 500, 20},
		{"passthrough", 25, 75, 25, 75},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, o := normalizePage(tc.limit, tc.offset)
			assert.Equal(t, tc.wantLimit, l)
			assert.Equal(t, tc.wantOffset, o)
		})
	}
}

func TestDecodeDataset_FillsEmptySpecies(t *testing.T) {
	d, err := decodeDataset([]byte(`{"id":"x","titlePrefix":"t","points":[{"id":"p","label":"1","vOrigL":20}]}`))
	assert.NoError(t, err)
	assert.NotNil(t, d.Species)
	assert.Equal(t, "x", d.ID)

	_, err = decodeDataset([]byte(`{`))
	assert.Error(t, err)
}

func TestScanWetWeight(t *testing.T) {
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	e, err := scanWetWeight(valuesRow{values: []any{"轮虫", "Rotifera", 0.0012, "轮虫类", "", "auto_matched", at}})
	require.NoError(t, err)
	assert.Equal(t, "轮虫", e.NameCn)
	assert.Equal(t, 0.0012, e.WetWeightMg)
	assert.Equal(t, "auto_matched", e.Origin)
	assert.Equal(t, at, e.UpdatedAt)

	_, err = scanWetWeight(valuesRow{err: sql.ErrNoRows})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestScanTaxonomy(t *testing.T) {
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	rec, err := scanTaxonomy(valuesRow{values: []any{"桡足类", "Copepoda", "桡足类", "节肢动物门", "甲壳纲", "", "", at}})
	require.NoError(t, err)
	assert.Equal(t, "Copepoda", rec.NameLatin)
	assert.Equal(t, "节肢动物门", rec.Taxonomy.Lvl2)
	assert.Empty(t, rec.Taxonomy.Lvl5)

	_, err = scanTaxonomy(valuesRow{values: []any{"x"}})
	assert.Error(t, err)
}

func TestReferenceRepository_ExecutorPrefersTx(t *testing.T) {
	tx := &sql.Tx{}
	repo := NewReferenceRepository(nil, nil).WithTx(tx)
	assert.Same(t, tx, repo.executor())
}
