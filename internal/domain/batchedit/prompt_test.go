package batchedit

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBulkPrompt(t *testing.T) {
	prompt, err := BuildBulkPrompt(BulkPromptInput{
		Template:    TemplateCounts,
		Input:       "  轮虫加2  ",
		ActivePoint: "1",
		Points:      []string{"1", "2"},
		Species:     []string{"轮虫"},
		Aliases:     map[string]string{"轮子虫": "轮虫", "剑水蚤": "桡足类"},
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "当前点：1")
	assert.Contains(t, prompt, "采样点清单（前 2/2）：1、2")
	assert.Contains(t, prompt, "物种清单（前 1/1）：轮虫")
	assert.Contains(t, prompt, "- 剑水蚤 -> 桡足类\n- 轮子虫 -> 轮虫")
	assert.Contains(t, prompt, "解析模板：计数模板")
	assert.Contains(t, prompt, "仅解析计数相关动作")
	assert.True(t, strings.HasSuffix(prompt, "用户指令：\n轮虫加2"))
}

func TestBuildBulkPrompt_EmptyAndCapped(t *testing.T) {
	points := make([]string, 200)
	for i := range points {
		points[i] = fmt.Sprint(i + 1)
	}
	prompt, err := BuildBulkPrompt(BulkPromptInput{Points: points})
	require.NoError(t, err)
	assert.Contains(t, prompt, "当前点：（无）")
	assert.Contains(t, prompt, "采样点清单（前 160/200）")
	assert.Contains(t, prompt, "物种清单（前 0/0）：（无）")
	assert.Contains(t, prompt, "别名映射（部分）：\n（无）")
	assert.Contains(t, prompt, "解析模板：综合模板")
	assert.NotContains(t, prompt, "、161、")
}

func TestBuildSpeciesInfoPrompt(t *testing.T) {
	p, err := BuildSpeciesInfoPrompt(SpeciesPromptWetWeight, "轮虫", "")
	require.NoError(t, err)
	assert.Contains(t, p, "物种中文名：轮虫")
	assert.Contains(t, p, "拉丁名：（未提供）")
	assert.Contains(t, p, "wetWeightMg 只输出正数或 null")

	p, err = BuildSpeciesInfoPrompt(SpeciesPromptTaxonomy, "桡足类", "Copepoda")
	require.NoError(t, err)
	assert.Contains(t, p, "拉丁名：Copepoda")
	assert.Contains(t, p, "lvl1：四大类之一")

	p, err = BuildSpeciesInfoPrompt(SpeciesPromptFull, "轮虫", "")
	require.NoError(t, err)
	assert.Contains(t, p, "平均湿重：wetWeightMg")
}

func TestExtractSpeciesJSON(t *testing.T) {
	doc, ok := ExtractSpeciesJSON("final_species_json: {\"a\":1}\nFINAL_SPECIES_JSON: ```json {\"b\":2}```")
	require.True(t, ok)
	assert.Equal(t, `{"b":2}`, doc)

	_, ok = ExtractSpeciesJSON("FINAL_SPECIES_JSON: unknown")
	assert.False(t, ok)
	_, ok = ExtractSpeciesJSON("没有结果")
	assert.False(t, ok)
	_, ok = ExtractSpeciesJSON("FINAL_SPECIES_JSON:   ")
	assert.False(t, ok)
}

func TestParseSpeciesInfo(t *testing.T) {
	info, ok := ParseSpeciesInfo(`{"nameLatin":" Keratella ","wetWeightMg":0.0005,"lvl1":"轮虫","lvl5":"龟甲轮虫属"}`)
	require.True(t, ok)
	assert.Equal(t, "Keratella", info.NameLatin)
	require.NotNil(t, info.WetWeightMg)
	assert.Equal(t, 0.0005, *info.WetWeightMg)
	assert.Equal(t, "轮虫类", info.Taxonomy.Lvl1)
	assert.Equal(t, "龟甲轮虫属", info.Taxonomy.Lvl5)

	_, ok = ParseSpeciesInfo("null")
	assert.False(t, ok)
	_, ok = ParseSpeciesInfo(`{"wetWeightMg":"heavy"}`)
	assert.False(t, ok)
}
