package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePointLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{" 1-0.3 ", "1-0.3"},
		{"1－0.3", "1-0.3"},
		{"1—0.3", "1-0.3"},
		{"１－０.３", "1-0.3"},
		{"A 1", "a1"},
		{"S＿2", "s_2"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePointLabel(tt.in), tt.in)
	}
}

func TestNormalizePointToken(t *testing.T) {
	assert.Equal(t, "1", NormalizePointToken("1点"))
	assert.Equal(t, "3", NormalizePointToken("采样点3"))
	assert.Equal(t, "2号", NormalizePointToken("2号点位"))
}

func TestParseSiteAndDepth(t *testing.T) {
	site, depth := ParseSiteAndDepth("S1-0.5")
	require.NotNil(t, site)
	require.NotNil(t, depth)
	assert.Equal(t, "S1", *site)
	assert.Equal(t, 0.5, *depth)

	site, depth = ParseSiteAndDepth("3")
	require.NotNil(t, site)
	assert.Equal(t, "3", *site)
	assert.Nil(t, depth)

	site, depth = ParseSiteAndDepth("A-deep")
	assert.Equal(t, "A", *site)
	assert.Nil(t, depth)

	site, depth = ParseSiteAndDepth("  ")
	assert.Nil(t, site)
	assert.Nil(t, depth)
}

func TestResolveSiteAndDepth(t *testing.T) {
	fixed := "X"
	site, depth := ResolveSiteAndDepth("S1-0.5", &fixed, nil)
	assert.Equal(t, "X", *site)
	assert.Equal(t, 0.5, *depth)

	d := 2.0
	site, depth = ResolveSiteAndDepth("S1-0.5", nil, &d)
	assert.Equal(t, "S1", *site)
	assert.Equal(t, 2.0, *depth)
}

func TestNormalizeLvl1(t *testing.T) {
	assert.Equal(t, "轮虫类", NormalizeLvl1(" 轮虫 "))
	assert.Equal(t, "原生动物", NormalizeLvl1("原生动物类"))
	assert.Equal(t, "其他", NormalizeLvl1("其他"))
	assert.Equal(t, "", NormalizeLvl1(""))
	assert.Len(t, Lvl1Order, 4)
}
