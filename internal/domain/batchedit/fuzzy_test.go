package batchedit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "keratellacochlearis", NormalizeName(" Keratella · cochlearis "))
	assert.Equal(t, "晶囊轮虫大", NormalizeName("晶囊轮虫（大）"))
	assert.Equal(t, "无节幼体", NormalizeName("【无节幼体】"))
}

func TestLevenshtein_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"", ""},
		{"", "轮虫"},
		{"kitten", "sitting"},
		{"晶囊轮虫", "晶囊轮"},
		{"桡足类", "枝角类"},
		{"flaw", "lawn"},
	}
	for _, p := range pairs {
		assert.Equal(t, Levenshtein(p[0], p[1]), Levenshtein(p[1], p[0]), "%q vs %q", p[0], p[1])
	}
	assert.Equal(t, 3, Levenshtein("kitten", "sitting"))
	assert.Equal(t, 1, Levenshtein("晶囊轮虫", "晶囊轮"))
	assert.Equal(t, 2, Levenshtein("", "轮虫"))
	assert.Equal(t, 1, Levenshtein("桡足类", "桡足虫"), "one rune substituted, not three bytes")
	assert.Zero(t, Levenshtein("无节幼体", "无节幼体"))
}

func TestBestMatch(t *testing.T) {
	candidates := []string{"晶囊轮虫", "桡足类", "Keratella"}

	for _, c := range candidates {
		m := BestMatch(c, candidates)
		require.NotNil(t, m)
		assert.Equal(t, 1.0, m.Score)
		assert.Equal(t, c, m.Canonical)
	}

	m := BestMatch("keratella", candidates)
	require.NotNil(t, m)
	assert.Equal(t, "Keratella", m.Canonical)
	assert.Equal(t, 0.98, m.Score)

	m = BestMatch("晶囊轮", candidates)
	require.NotNil(t, m)
	assert.Equal(t, "晶囊轮虫", m.Canonical)
	assert.InDelta(t, 0.75, m.Score, 1e-9)
	assert.Equal(t, "晶囊轮", m.Raw)
}

func TestBestMatch_TiesKeepFirst(t *testing.T) {
	m := BestMatch("ab", []string{"ax", "ay"})
	require.NotNil(t, m)
	assert.Equal(t, "ax", m.Canonical)
	assert.InDelta(t, 0.5, m.Score, 1e-9)
}

func TestBestMatch_Nil(t *testing.T) {
	assert.Nil(t, BestMatch("", []string{"a"}))
	assert.Nil(t, BestMatch("...", []string{"a"}))
	assert.Nil(t, BestMatch("abc", nil))
	assert.Nil(t, BestMatch("abc", []string{"", "  "}))
	assert.Nil(t, BestMatch("abc", []string{"xyz"}))
}
