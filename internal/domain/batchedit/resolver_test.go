package batchedit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
)

func fptr(v float64) *float64 { return &v }

// surveyFixture is a two-point table with three species.
func surveyFixture() *dataset.Dataset {
	return &dataset.Dataset{
		ID:          "ds-1",
		TitlePrefix: "东湖",
		Points: []dataset.Point{
			{ID: "p1", Label: "1", VOrigL: 20},
			{ID: "p2", Label: "2", VOrigL: 20},
		},
		Species: []dataset.Species{
			{ID: "s1", NameCn: "轮虫", CountsByPointID: map[string]int{"p1": 3, "p2": 0}},
			{ID: "s2", NameCn: "桡足类", CountsByPointID: map[string]int{"p1": 0, "p2": 5}},
			{ID: "s3", NameCn: "晶囊轮虫", CountsByPointID: map[string]int{}},
		},
	}
}

func newTestResolver(d *dataset.Dataset, s *ParseSession, settings Settings, aliases map[string]string) (*Resolver, *report) {
	rep := newReport()
	return &Resolver{
		sim:           d,
		session:       s,
		settings:      settings,
		aliases:       aliases,
		activePointID: s.ActivePointID,
		report:        rep,
	}, rep
}

func TestResolvePoint_ActiveAndExact(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())
	s.ActivePointID = "p2"
	r, _ := newTestResolver(surveyFixture(), s, Settings{}, nil)

	res := r.ResolvePoint("当前点", false)
	require.NotNil(t, res.Point)
	assert.Equal(t, "p2", res.Point.ID)

	res = r.ResolvePoint("", false)
	require.NotNil(t, res.Point)
	assert.Equal(t, "p2", res.Point.ID)

	res = r.ResolvePoint(" 1 ", false)
	require.NotNil(t, res.Point)
	assert.Equal(t, "p1", res.Point.ID)

	s.ActivePointID = ""
	r, _ = newTestResolver(surveyFixture(), s, Settings{}, nil)
	res = r.ResolvePoint("本点", false)
	assert.Nil(t, res.Point)
	assert.Equal(t, reasonNoActivePoint, res.Reason)
}

func TestResolvePoint_LabelSuggestion(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())

	r, rep := newTestResolver(surveyFixture(), s, Settings{AutoCorrect: true}, nil)
	res := r.ResolvePoint("第二点", false)
	require.NotNil(t, res.Point)
	assert.Equal(t, "p2", res.Point.ID)
	require.Len(t, rep.applied, 1)
	assert.Equal(t, NameCorrection{Raw: "第二点", Canonical: "2", Score: 1.0}, rep.applied[0])

	r, rep = newTestResolver(surveyFixture(), s, Settings{RequireConfirm: true}, nil)
	res = r.ResolvePoint("第二点", false)
	assert.Nil(t, res.Point)
	assert.True(t, res.NeedsCorrection)
	require.Len(t, rep.corrections, 1)
	assert.Equal(t, CorrectionPoint, rep.corrections[0].Kind)
	assert.Equal(t, "2", rep.corrections[0].Suggestion)
}

func TestResolvePoint_AllowNew(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())
	r, _ := newTestResolver(surveyFixture(), s, Settings{}, nil)

	res := r.ResolvePoint("3-0.5", true)
	assert.Nil(t, res.Point)
	assert.Equal(t, "3-0.5", res.Label)
	assert.Empty(t, res.Reason)

	res = r.ResolvePoint("3号点", true)
	assert.Nil(t, res.Point)
	assert.Equal(t, "3", res.Label)

	res = r.ResolvePoint("9", false)
	assert.Nil(t, res.Point)
	assert.Equal(t, reasonUnknownPoint, res.Reason)
}

func TestResolvePoint_AllowNewBindsExistingFirst(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())
	r, _ := newTestResolver(surveyFixture(), s, Settings{}, nil)

	res := r.ResolvePoint("1-0.3", true)
	require.NotNil(t, res.Point, "containment is tried before creating a point")
	assert.Equal(t, "p1", res.Point.ID)
	assert.Equal(t, "1", res.Label)

	d := surveyFixture()
	d.Points[0].Label = "东岸"
	d.Points[1].Label = "西岸"
	r, _ = newTestResolver(d, s, Settings{}, nil)
	res = r.ResolvePoint("2号", true)
	require.NotNil(t, res.Point, "index fallback is tried before creating a point")
	assert.Equal(t, "p2", res.Point.ID)

	res = r.ResolvePoint("5号", true)
	assert.Nil(t, res.Point)
	assert.Equal(t, "5", res.Label)
}

func TestResolvePoint_OverrideAndKeep(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())
	s.Adopt(CorrectionPoint, "东岸", "2")
	r, _ := newTestResolver(surveyFixture(), s, Settings{RequireConfirm: true}, nil)
	res := r.ResolvePoint("东岸", false)
	require.NotNil(t, res.Point)
	assert.Equal(t, "p2", res.Point.ID)

	s.Keep(CorrectionPoint, "第二点")
	res = r.ResolvePoint("第二点", true)
	assert.Nil(t, res.Point)
	assert.False(t, res.NeedsCorrection)
	assert.Equal(t, "第二点", res.Label)
}

func TestResolveSpecies_Ladder(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())
	aliases := map[string]string{"轮子虫": "轮虫"}

	r, rep := newTestResolver(surveyFixture(), s, Settings{}, aliases)

	res := r.ResolveSpecies("桡足类", false)
	require.NotNil(t, res.Species)
	assert.Equal(t, "s2", res.Species.ID)

	res = r.ResolveSpecies("轮子虫", false)
	require.NotNil(t, res.Species)
	assert.Equal(t, "s1", res.Species.ID)
	require.Len(t, rep.applied, 1)
	assert.Equal(t, "轮子虫", rep.applied[0].Raw)

	res = r.ResolveSpecies("晶囊轮", false)
	assert.Nil(t, res.Species)
	assert.Equal(t, "晶囊轮虫", res.Suggestion)
	assert.Contains(t, res.Reason, "晶囊轮虫")

	res = r.ResolveSpecies("无节幼体", true)
	assert.Nil(t, res.Species)
	assert.Equal(t, "无节幼体", res.Name)
	assert.Empty(t, res.Reason)

	res = r.ResolveSpecies("无节幼体", false)
	assert.Equal(t, reasonSpeciesNotFound, res.Reason)

	res = r.ResolveSpecies(" ", true)
	assert.Equal(t, reasonNoSpeciesName, res.Reason)
}

func TestResolveSpecies_ShortTokenThreshold(t *testing.T) {
	assert.Equal(t, ShortNamePendingScore, pendingScoreFor("晶囊轮"))
	assert.Equal(t, ShortNamePendingScore, pendingScoreFor("晶囊轮虫"))
	assert.Equal(t, FuzzyPendingScore, pendingScoreFor("长刺溞属物种"))
}

func TestResolveSpecies_ConfirmMode(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())
	r, rep := newTestResolver(surveyFixture(), s, Settings{RequireConfirm: true, AutoCorrect: true}, nil)

	res := r.ResolveSpecies("晶囊轮", true)
	assert.True(t, res.NeedsCorrection)
	require.Len(t, rep.corrections, 1)
	c := rep.corrections[0]
	assert.Equal(t, CorrectionSpecies, c.Kind)
	assert.Equal(t, "晶囊轮", c.Raw)
	assert.Equal(t, "晶囊轮虫", c.Suggestion)
	require.NotNil(t, c.Score)
	assert.InDelta(t, 0.75, *c.Score, 1e-9)

	r.ResolveSpecies("晶囊轮", true)
	assert.Len(t, rep.corrections, 1, "the same correction is listed once")

	s.Adopt(CorrectionSpecies, "晶囊轮", "晶囊轮虫")
	res = r.ResolveSpecies("晶囊轮", true)
	require.NotNil(t, res.Species)
	assert.Equal(t, "s3", res.Species.ID)

	s.Keep(CorrectionSpecies, "晶囊轮")
	assert.NotContains(t, s.SpeciesOverrides, "晶囊轮")
	res = r.ResolveSpecies("晶囊轮", true)
	assert.False(t, res.NeedsCorrection)
	assert.Nil(t, res.Species)
	assert.Equal(t, "晶囊轮", res.Name)
}
