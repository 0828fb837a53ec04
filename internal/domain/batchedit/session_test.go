package batchedit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseSession_ParseKey(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())
	s.Input = " 轮虫加2 "
	assert.Equal(t, "local|general|text:轮虫加2", s.ParseKey())

	s.Input = ""
	s.BulkJSON = `{"actions":[]}`
	s.Mode = ModeAPI2
	assert.Equal(t, `api2|general|json:{"actions":[]}`, s.ParseKey())

	s.Input = "文本优先"
	assert.Equal(t, "api2|general|text:文本优先", s.ParseKey())
}

func TestParseSession_CacheFollowsInput(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())
	s.Input = "轮虫加2"
	_, ok := s.Cached()
	assert.False(t, ok)

	parsed := &ParsedResult{UsedMode: ModeAPI2}
	s.StoreParsed(parsed)
	got, ok := s.Cached()
	assert.True(t, ok)
	assert.Same(t, parsed, got)
	assert.Equal(t, ModeAPI2, s.EffectiveMode())

	s.Input = "轮虫加3"
	_, ok = s.Cached()
	assert.False(t, ok)
}

func TestParseSession_AdoptAndKeepExclude(t *testing.T) {
	s := NewParseSession("sess", "ds-1", time.Now())
	s.Keep(CorrectionPoint, " 东岸 ")
	assert.True(t, s.keepsPoint("东岸"))

	s.Adopt(CorrectionPoint, "东岸", "2")
	assert.False(t, s.keepsPoint("东岸"))
	assert.Equal(t, "2", s.PointOverrides["东岸"])

	s.Keep(CorrectionSpecies, "晶囊轮")
	s.Adopt(CorrectionSpecies, "晶囊轮", "晶囊轮虫")
	assert.False(t, s.keepsSpecies("晶囊轮"))
}

func TestModeAndTemplateNames(t *testing.T) {
	assert.Equal(t, ModeAPI1, ParseMode(" API1 "))
	assert.Equal(t, ModeLocal, ParseMode("gpt"))
	assert.Equal(t, "本地规则", ModeLocal.Label())
	assert.Equal(t, "", ModeLocal.APITag())
	assert.Equal(t, "api2", ModeAPI2.APITag())
	assert.Equal(t, TemplateCounts, ParseTemplate("Counts"))
	assert.Equal(t, TemplateGeneral, ParseTemplate(""))
}
