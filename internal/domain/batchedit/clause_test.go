package batchedit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitClauses(t *testing.T) {
	got := SplitClauses("1号点的轮虫改为5，桡足类加3。\n删除枝角类；  然后无节幼体增加2 另外  ")
	assert.Equal(t, []string{"1号点的轮虫改为5", "桡足类加3", "删除枝角类", "无节幼体增加2"}, got)

	assert.Empty(t, SplitClauses(" ，。；\n"))
}

func TestParseClauses_Set(t *testing.T) {
	res := ParseClauses("把1号点位的轮虫改为5")
	require.Empty(t, res.Errors)
	require.Len(t, res.Commands, 1)
	assert.Equal(t, SetCountCommand{Raw: "把1号点位的轮虫改为5", Point: "1", Species: "轮虫", Value: 5}, res.Commands[0])

	res = ParseClauses("轮虫改为十二")
	require.Len(t, res.Commands, 1)
	assert.Equal(t, SetCountCommand{Raw: "轮虫改为十二", Species: "轮虫", Value: 12}, res.Commands[0])
}

func TestParseClauses_Delta(t *testing.T) {
	res := ParseClauses("无节幼体增加2，2号点的桡足类减少三，轮虫加")
	require.Empty(t, res.Errors)
	require.Len(t, res.Commands, 3)
	assert.Equal(t, DeltaCountCommand{Raw: "无节幼体增加2", Species: "无节幼体", Delta: 2}, res.Commands[0])
	assert.Equal(t, DeltaCountCommand{Raw: "2号点的桡足类减少三", Point: "2", Species: "桡足类", Delta: -3}, res.Commands[1])
	assert.Equal(t, DeltaCountCommand{Raw: "轮虫加", Species: "轮虫", Delta: 1}, res.Commands[2])
}

func TestParseClauses_AddAtPoint(t *testing.T) {
	res := ParseClauses("在2号点新增晶囊轮虫3个")
	require.Empty(t, res.Errors)
	require.Len(t, res.Commands, 1)
	assert.Equal(t, DeltaCountCommand{Raw: "在2号点新增晶囊轮虫3个", Point: "2", Species: "晶囊轮虫", Delta: 3}, res.Commands[0])
}

func TestParseClauses_Delete(t *testing.T) {
	res := ParseClauses("删除轮虫、桡足类")
	require.Empty(t, res.Errors)
	require.Len(t, res.Commands, 2)
	assert.Equal(t, DeleteSpeciesCommand{Raw: "删除轮虫、桡足类", Species: "轮虫"}, res.Commands[0])
	assert.Equal(t, DeleteSpeciesCommand{Raw: "删除轮虫、桡足类", Species: "桡足类"}, res.Commands[1])

	res = ParseClauses("删除2号点的轮虫")
	require.Len(t, res.Commands, 1)
	assert.Equal(t, DeleteSpeciesCommand{Raw: "删除2号点的轮虫", Point: "2", Species: "轮虫"}, res.Commands[0])
}

func TestParseClauses_Unmatched(t *testing.T) {
	res := ParseClauses("你好，轮虫改为5")
	require.Len(t, res.Commands, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "「你好」："+reasonNoMatch, res.Errors[0])
}

func TestCommandsToActions(t *testing.T) {
	cmds := []Command{
		SetCountCommand{Point: "1", Species: "轮虫", Value: 5},
		DeltaCountCommand{Species: "桡足类", Delta: -2},
		DeleteSpeciesCommand{Species: "枝角类"},
		DeleteSpeciesCommand{Point: "2", Species: "轮虫"},
	}
	got := CommandsToActions(cmds)
	require.Len(t, got, 4)

	assert.Equal(t, KindCountSet, got[0].Kind())
	assert.Equal(t, 5.0, *got[0].Value)

	assert.Equal(t, KindCountDelta, got[1].Kind())
	assert.Equal(t, -2.0, *got[1].Delta)
	assert.Empty(t, got[1].Point)

	assert.Equal(t, Action{Type: "species.delete", Species: "枝角类"}, got[2])

	assert.Equal(t, KindCountSet, got[3].Kind())
	assert.Equal(t, "2", got[3].Point)
	assert.Equal(t, 0.0, *got[3].Value)
}

func TestNormalizeKind(t *testing.T) {
	cases := map[string]ActionKind{
		"point.add":      KindPointAdd,
		"POINT_ADD":      KindPointAdd,
		"species-rename": KindSpeciesRename,
		"count_set":      KindCountSet,
		"新增点位":           KindPointAdd,
		"删除物种":           KindSpeciesDelete,
		"计数增加":           KindCountDelta,
		"修改计数":           KindCountSet,
		"湿重补齐":           KindWetWeightAutofill,
		"设置湿重":           KindWetWeightSet,
		"自动补齐分类":         KindTaxonomyAutofill,
		"Point.Vanish":   ActionKind("point.vanish"),
		"":               "",
	}
	for in, want := range cases {
		got := NormalizeKind(in)
		assert.Equal(t, want, got, in)
	}
	assert.False(t, NormalizeKind("point.vanish").IsKnown())
	assert.True(t, NormalizeKind("count_clear").IsKnown())
}

func TestParseFillSource(t *testing.T) {
	s, ok := ParseFillSource("本地库")
	assert.True(t, ok)
	assert.Equal(t, FillLocal, s)
	s, ok = ParseFillSource("API")
	assert.True(t, ok)
	assert.Equal(t, FillAPI, s)
	_, ok = ParseFillSource("")
	assert.False(t, ok)
	_, ok = ParseFillSource("网上")
	assert.False(t, ok)
}
