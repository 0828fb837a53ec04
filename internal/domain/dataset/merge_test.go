package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func duplicateDataset() *Dataset {
	return &Dataset{
		ID: "ds",
		Points: []Point{
			{ID: "p1", Label: "1"},
			{ID: "p2", Label: "2"},
		},
		Species: []Species{
			{ID: "a", NameCn: "轮虫", CountsByPointID: map[string]int{"p1": 3}},
			{ID: "b", NameCn: "桡足类", CountsByPointID: map[string]int{"p1": 1}},
			{ID: "c", NameCn: " 轮虫", NameLatin: "Rotifera", AvgWetWeightMg: fptr(0.001),
				Taxonomy: Taxonomy{Lvl1: "轮虫类"}, CountsByPointID: map[string]int{"p1": 5, "p2": 2}},
			{ID: "d", NameCn: "", CountsByPointID: map[string]int{}},
			{ID: "e", NameCn: "", CountsByPointID: map[string]int{}},
		},
	}
}

func TestMergeDuplicateSpeciesByName_Max(t *testing.T) {
	d := duplicateDataset()
	res := MergeDuplicateSpeciesByName(d, MergeMax)

	assert.Equal(t, 1, res.MergedCount)
	require.Len(t, res.Dataset.Species, 4)

	merged := res.Dataset.Species[0]
	assert.Equal(t, "a", merged.ID)
	assert.Equal(t, "Rotifera", merged.NameLatin)
	require.NotNil(t, merged.AvgWetWeightMg)
	assert.Equal(t, 0.001, *merged.AvgWetWeightMg)
	assert.Equal(t, "轮虫类", merged.Taxonomy.Lvl1)
	assert.Equal(t, map[string]int{"p1": 5, "p2": 2}, merged.CountsByPointID)

	assert.Equal(t, "b", res.Dataset.Species[1].ID)
	assert.Len(t, d.Species, 5, "input must stay untouched")
}

func TestMergeDuplicateSpeciesByName_Sum(t *testing.T) {
	res := MergeDuplicateSpeciesByName(duplicateDataset(), MergeSum)
	assert.Equal(t, map[string]int{"p1": 8, "p2": 2}, res.Dataset.Species[0].CountsByPointID)
}

func TestMergeDuplicateSpeciesByName_NoDuplicates(t *testing.T) {
	d := sampleDataset()
	res := MergeDuplicateSpeciesByName(d, MergeMax)
	assert.Equal(t, 0, res.MergedCount)
	assert.Same(t, d, res.Dataset)
}

func TestMergeSpeciesPair_TakesMax(t *testing.T) {
	points := []Point{{ID: "p1"}, {ID: "p2"}}
	b := Species{ID: "B", NameCn: "B", CountsByPointID: map[string]int{"p1": 5}}
	a := Species{ID: "A", NameCn: "B", NameLatin: "alpha", CountsByPointID: map[string]int{"p1": 3, "p2": 1}}

	got := MergeSpeciesPair(b, a, points)
	assert.Equal(t, "B", got.ID)
	assert.Equal(t, "alpha", got.NameLatin)
	assert.Equal(t, map[string]int{"p1": 5, "p2": 1}, got.CountsByPointID)
}
