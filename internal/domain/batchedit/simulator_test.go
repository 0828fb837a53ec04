package batchedit

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
)

func previewTexts(sim *Simulation) []string {
	out := make([]string, 0, len(sim.Preview))
	for _, l := range sim.Preview {
		out = append(out, l.Text)
	}
	return out
}

func speciesCount(t *testing.T, d *dataset.Dataset, name, pointID string) int {
	t.Helper()
	sp := d.FindSpeciesByName(name)
	require.NotNil(t, sp, "species %s", name)
	return sp.Count(pointID)
}

func TestSimulate_EmptyParse(t *testing.T) {
	sim := Simulate(SimulationInput{Dataset: surveyFixture(), Parsed: &ParsedResult{}})
	require.Len(t, sim.Preview, 1)
	assert.Equal(t, PreviewLine{Text: previewNoInstruction, Severity: SeverityError}, sim.Preview[0])
	assert.False(t, sim.CanApply(false))
}

func TestSimulate_DoesNotTouchInput(t *testing.T) {
	d := surveyFixture()
	before := d.Clone()
	parsed := &ParsedResult{Actions: []Action{
		{Type: "point.add", Point: "3"},
		{Type: "species.delete", Species: "轮虫"},
		{Type: "count.set", Point: "2", Species: "桡足类", Value: fptr(9)},
		{Type: "species.rename", From: "晶囊轮虫", To: "桡足类"},
	}}
	Simulate(SimulationInput{Dataset: d, Parsed: parsed})
	if diff := cmp.Diff(before, d); diff != "" {
		t.Fatalf("input dataset mutated (-want +got):\n%s", diff)
	}
}

func TestSimulate_ActivePointDelta(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())
	s.ActivePointID = "p2"
	sim := Simulate(SimulationInput{
		Dataset: surveyFixture(),
		Parsed:  ParseLocal("无节幼体增加2"),
		Session: s,
	})
	require.Len(t, sim.Edits, 1)
	assert.Equal(t, DeltaCountEdit{PointID: "p2", SpeciesNameCn: "无节幼体", Delta: 2}, sim.Edits[0])
	assert.Contains(t, previewTexts(sim), "新增物种：无节幼体（由计数触发）")
	assert.Contains(t, previewTexts(sim), "增减：2 · 无节幼体 +2")
}

func TestSimulate_LaterActionsSeeEarlierOnes(t *testing.T) {
	parsed := &ParsedResult{Actions: []Action{
		{Type: "point.add", Point: "3", Vc: fptr(50)},
		{Type: "count.set", Point: "3", Species: "轮虫", Value: fptr(2.4)},
		{Type: "count.delta", Point: "3", Species: "新种", Delta: fptr(1)},
		{Type: "count.delta", Point: "1", Species: "新种", Delta: fptr(1)},
	}}
	sim := Simulate(SimulationInput{Dataset: surveyFixture(), Parsed: parsed, Settings: Settings{DefaultVOrigL: 20}})
	require.Len(t, sim.Edits, 4)
	add, ok := sim.Edits[0].(AddPointEdit)
	require.True(t, ok)
	assert.Equal(t, "3", add.Point.Label)
	assert.Equal(t, 20.0, add.Point.VOrigL)

	set, ok := sim.Edits[1].(SetCountEdit)
	require.True(t, ok)
	assert.Equal(t, add.Point.ID, set.PointID)
	assert.Equal(t, 2, set.Value)

	texts := previewTexts(sim)
	assert.Contains(t, texts, "设置：3 · 轮虫 = 2（已四舍五入）")
	implicit := 0
	for _, line := range texts {
		if strings.HasPrefix(line, "新增物种：新种") {
			implicit++
		}
	}
	assert.Equal(t, 1, implicit, "implicit creation is announced once per name")

	next, _ := Transform(surveyFixture(), sim.Edits, false)
	require.Len(t, next.Points, 3)
	assert.Equal(t, 2, speciesCount(t, next, "轮虫", add.Point.ID))
	assert.Equal(t, 1, speciesCount(t, next, "新种", "p1"))
}

func TestSimulate_PendingItems(t *testing.T) {
	parsed := &ParsedResult{Actions: []Action{
		{Type: "point.update", Point: "1"},
		{Type: "point.add", Point: "5", Vc: fptr(-1)},
		{Type: "count.set", Point: "9", Species: "轮虫", Value: fptr(1)},
		{Type: "count.set", Point: "1", Species: "轮虫", Value: fptr(-3)},
		{Type: "wetweight.set", Species: "轮虫", Value: fptr(0)},
		{Type: "wetweight.autofill", Species: "轮虫"},
		{Type: "point.rename", From: "1", To: "2"},
	}}
	sim := Simulate(SimulationInput{Dataset: surveyFixture(), Parsed: parsed})
	assert.Empty(t, sim.Edits)
	assert.Equal(t, []PendingItem{
		{Text: "点位参数修改：1", Reason: reasonMissingVolume},
		{Text: "新增点位 5", Reason: reasonBadVc},
		{Text: "设置计数", Reason: reasonUnknownPoint},
		{Text: "设置计数：1 · 轮虫", Reason: reasonNegativeCount},
		{Text: "设置湿重：轮虫", Reason: reasonBadWetWeight},
		{Text: "补齐湿重：轮虫", Reason: reasonMissingSource},
		{Text: "点位重命名：1 → 2", Reason: reasonNameTaken},
	}, sim.Pending)
}

func TestSimulate_ErrorSummaries(t *testing.T) {
	parsed := &ParsedResult{
		Actions:  []Action{{Type: "teleport"}, {Type: "count.set", Point: "1", Species: "轮虫", Value: fptr(1)}},
		Errors:   []string{"a", "b", "c", "d"},
		Unparsed: []string{"x"},
		Warnings: []string{"API1 解析失败，已改用 API2"},
	}
	sim := Simulate(SimulationInput{Dataset: surveyFixture(), Parsed: parsed})
	texts := previewTexts(sim)
	assert.Equal(t, "提示：API1 解析失败，已改用 API2", texts[0])
	assert.Contains(t, texts, "解析错误：a、b、c 等4条")
	assert.Contains(t, texts, "无法解析：x")
	assert.Contains(t, texts, "未识别动作：teleport")
}

func TestSimulate_DeletionGate(t *testing.T) {
	d := surveyFixture()
	parsed := &ParsedResult{Actions: []Action{
		{Type: "species.delete", Species: "轮虫"},
		{Type: "count.set", Point: "2", Species: "桡足类", Value: fptr(9)},
	}}
	sim := Simulate(SimulationInput{Dataset: d, Parsed: parsed})
	require.Len(t, sim.Edits, 2)
	assert.True(t, sim.NeedsDeleteConfirmation())
	assert.Equal(t, []string{"轮虫"}, sim.PendingDeleteNames)
	assert.True(t, sim.CanApply(true))

	kept, _ := Transform(d, sim.Edits, false)
	assert.NotNil(t, kept.FindSpeciesByName("轮虫"), "deletion needs confirmation")
	assert.Equal(t, 9, speciesCount(t, kept, "桡足类", "p2"))

	all, _ := Transform(d, sim.Edits, true)
	assert.Nil(t, all.FindSpeciesByName("轮虫"))
	assert.Equal(t, 9, speciesCount(t, all, "桡足类", "p2"))
}

func TestSimulate_RenameMergePreview(t *testing.T) {
	parsed := &ParsedResult{Actions: []Action{
		{Type: "species.rename", From: "晶囊轮虫", To: "桡足类"},
		{Type: "count.delta", Point: "2", Species: "桡足类", Delta: fptr(1)},
	}}
	sim := Simulate(SimulationInput{Dataset: surveyFixture(), Parsed: parsed})
	require.Len(t, sim.Edits, 2)
	assert.Equal(t, PreviewLine{Text: "物种改名：晶囊轮虫 → 桡足类（同名合并，计数取最大值）", Severity: SeverityWarn}, sim.Preview[0])
	assert.Equal(t, "增减：2 · 桡足类 +1", sim.Preview[1].Text)
}

func TestSimulate_PendingCorrectionBlocksApply(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())
	settings := Settings{RequireConfirm: true}
	parsed := &ParsedResult{Actions: []Action{
		{Type: "count.set", Point: "1", Species: "晶囊轮", Value: fptr(4)},
		{Type: "count.set", Point: "1", Species: "轮虫", Value: fptr(4)},
	}}
	in := SimulationInput{Dataset: surveyFixture(), Parsed: parsed, Session: s, Settings: settings}

	sim := Simulate(in)
	require.Len(t, sim.Corrections, 1)
	assert.Empty(t, sim.Pending, "a pending correction is not also a pending item")
	require.Len(t, sim.Edits, 1)
	assert.False(t, sim.CanApply(true))
	assert.True(t, sim.CanApply(false))
	assert.Equal(t, "待校准：晶囊轮→晶囊轮虫", sim.Preview[0].Text)

	s.Adopt(CorrectionSpecies, "晶囊轮", "晶囊轮虫")
	sim = Simulate(in)
	assert.Empty(t, sim.Corrections)
	require.Len(t, sim.Edits, 2)
	assert.Equal(t, SetCountEdit{PointID: "p1", SpeciesNameCn: "晶囊轮虫", Value: 4}, sim.Edits[0])
	assert.True(t, sim.CanApply(true))
}

func TestSimulate_AutoCorrectionSummary(t *testing.T) {
	parsed := &ParsedResult{Actions: []Action{
		{Type: "count.set", Point: "第二点", Species: "轮子虫", Value: fptr(1)},
	}}
	sim := Simulate(SimulationInput{
		Dataset:  surveyFixture(),
		Parsed:   parsed,
		Settings: Settings{AutoCorrect: true},
		Aliases:  map[string]string{"轮子虫": "轮虫"},
	})
	require.Len(t, sim.Edits, 1)
	assert.Equal(t, "已自动纠错：第二点→2, 轮子虫→轮虫", sim.Preview[0].Text)
	assert.Len(t, sim.AutoCorrections, 2)
}

func TestSimulate_Autofill(t *testing.T) {
	parsed := &ParsedResult{Actions: []Action{
		{Type: "wetweight.autofill", Species: "轮虫", Source: "local"},
		{Type: "taxonomy.autofill", Species: "桡足类", Source: "api", WriteToDb: boolPtr(false)},
	}}
	sim := Simulate(SimulationInput{Dataset: surveyFixture(), Parsed: parsed, Settings: Settings{AutoMatchWriteToDb: true}})
	assert.Equal(t, []ResolvedEdit{
		AutofillWetWeightEdit{SpeciesNameCn: "轮虫", Source: FillLocal, WriteToDb: true},
		AutofillTaxonomyEdit{SpeciesNameCn: "桡足类", Source: FillAPI, WriteToDb: false},
	}, sim.Edits)
	assert.Equal(t, []string{"湿重补齐：轮虫（本机）·写入库", "分类补齐：桡足类（AI）"}, previewTexts(sim))
}

func boolPtr(b bool) *bool { return &b }
