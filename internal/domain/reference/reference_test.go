package reference

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
)

type aliasStub struct {
	list []Alias
	err  error
}

func (a *aliasStub) ListAliases(context.Context) ([]Alias, error) { return a.list, a.err }
func (a *aliasStub) UpsertAlias(context.Context, Alias) error { return nil }
func (a *aliasStub) DeleteAlias(context.Context, string) error { return nil }

type wetStub struct {
	entries map[string]WetWeightEntry
	written []WetWeightEntry
}

func (w *wetStub) FindWetWeight(_ context.Context, name string) (*WetWeightEntry, error) {
	if e, ok := w.entries[name]; ok {
		return &e, nil
	}
	return nil, nil
}

func (w *wetStub) ListWetWeightNames(context.Context) ([]string, error) {
	var out []string
	for k := range w.entries {
		out = append(out, k)
	}
	return out, nil
}

func (w *wetStub) UpsertWetWeight(_ context.Context, e WetWeightEntry) error {
	w.written = append(w.written, e)
	return nil
}

func TestAliasMap(t *testing.T) {
	store := &aliasStub{list: []Alias{
		{Alias: " 轮子虫 ", Canonical: "轮虫"},
		{Alias: "", Canonical: "x"},
		{Alias: "y", Canonical: " "},
	}}
	assert.Equal(t, map[string]string{"轮子虫": "轮虫"}, AliasMap(context.Background(), store))

	failing := &aliasStub{err: errors.New("boom")}
	assert.Empty(t, AliasMap(context.Background(), failing))
	assert.Empty(t, AliasMap(context.Background(), nil))
}

func TestLookupNames(t *testing.T) {
	aliases := map[string]string{"轮子虫": "轮虫", "轮虫": "轮虫"}
	assert.Equal(t, []string{"轮子虫", "轮虫"}, LookupNames("轮子虫", aliases))
	assert.Equal(t, []string{"轮虫"}, LookupNames("轮虫", aliases))
	assert.Nil(t, LookupNames(" ", aliases))
}

func TestLoadBuiltin(t *testing.T) {
	doc := `{"wetWeights":[{"nameCn":"晶囊轮虫","wetWeightMg":0.002}],
		"taxonomies":[{"nameCn":"晶囊轮虫","taxonomy":{"lvl1":"轮虫类"}}]}`
	b, err := LoadBuiltin(strings.NewReader(doc))
	require.NoError(t, err)

	wet := &LayeredWetWeights{Builtin: b}
	e, err := wet.FindWetWeight(context.Background(), "晶囊轮虫")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 0.002, e.WetWeightMg)

	tax := &LayeredTaxonomy{Builtin: b}
	r, err := tax.FindTaxonomy(context.Background(), "晶囊轮虫")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "轮虫类", r.Taxonomy.Lvl1)

	_, err = LoadBuiltin(strings.NewReader("{"))
	assert.Error(t, err)
}

func TestLayeredWetWeights_CustomFirst(t *testing.T) {
	custom := &wetStub{entries: map[string]WetWeightEntry{"晶囊轮虫": {NameCn: "晶囊轮虫", WetWeightMg: 0.005}}}
	b := NewBuiltin([]WetWeightEntry{{NameCn: "晶囊轮虫", WetWeightMg: 0.002}, {NameCn: "剑水蚤", WetWeightMg: 0.01}}, nil)
	lib := &LayeredWetWeights{Custom: custom, Builtin: b}
	ctx := context.Background()

	e, err := lib.FindWetWeight(ctx, "晶囊轮虫")
	require.NoError(t, err)
	assert.Equal(t, 0.005, e.WetWeightMg)

	e, err = lib.FindWetWeight(ctx, "剑水蚤")
	require.NoError(t, err)
	assert.Equal(t, 0.01, e.WetWeightMg)

	e, err = lib.FindWetWeight(ctx, "未知")
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, lib.UpsertWetWeight(ctx, WetWeightEntry{NameCn: "新种", WetWeightMg: 1}))
	assert.Len(t, custom.written, 1)

	assert.Error(t, (&LayeredWetWeights{Builtin: b}).UpsertWetWeight(ctx, WetWeightEntry{}))
}

func TestNameCandidates(t *testing.T) {
	d := &dataset.Dataset{Species: []dataset.Species{{NameCn: "轮虫"}, {NameCn: " "}, {NameCn: "轮虫"}}}
	b := NewBuiltin(
		[]WetWeightEntry{{NameCn: "剑水蚤"}},
		[]TaxonomyRecord{{NameCn: "晶囊轮虫"}, {NameCn: "轮虫"}},
	)
	got := NameCandidates(context.Background(), d, &LayeredWetWeights{Builtin: b}, &LayeredTaxonomy{Builtin: b})
	assert.Equal(t, []string{"轮虫", "晶囊轮虫", "剑水蚤"}, got)
}
