package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiBackend_Generate(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"湿重 0.05 mg"}]}}]}`))
	}))
	defer srv.Close()

	b, err := NewGeminiBackend(context.Background(), srv.URL, "key", "gemini-2.0-flash", srv.Client())
	require.NoError(t, err)

	out, err := b.Generate(context.Background(), "sys", "轮虫湿重", 650)
	require.NoError(t, err)
	assert.Equal(t, "湿重 0.05 mg", out)
	assert.True(t, strings.HasSuffix(path, "models/gemini-2.0-flash:generateContent"), path)
	assert.Contains(t, body, "systemInstruction")
}

func TestNewGeminiBackend_Validation(t *testing.T) {
	_, err := NewGeminiBackend(context.Background(), "", "", "m", nil)
	assert.Error(t, err)
	_, err = NewGeminiBackend(context.Background(), "", "k", "", nil)
	assert.Error(t, err)
}
