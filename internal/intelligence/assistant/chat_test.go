package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

func TestResolveChatURL(t *testing.T) {
	cases := map[string]string{
		"https://api.example.com/v1/chat/completions": "https://api.example.com/v1/chat/completions",
		"https://api.example.com/v1/":                 "https://api.example.com/v1/chat/completions",
		"https://api.example.com/v1/proxy":            "https://api.example.com/v1/proxy/chat/completions",
		"https://api.example.com":                     "https://api.example.com/v1/chat/completions",
		" https://gw.example.com/api ":                "https://gw.example.com/api/v1/chat/completions",
	}
	for in, want := range cases {
		got, err := ResolveChatURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ResolveChatURL("  ")
	assert.Error(t, err)
}

type capturedRequest struct {
	Path   string
	Auth   string
	Body   chatRequest
	Status int
}

func chatServer(t *testing.T, replies ...func(w http.ResponseWriter)) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		i := len(seen)
		seen = append(seen, capturedRequest{Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: body})
		mu.Unlock()
		if i < len(replies) {
			replies[i](w)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestChatBackend_Generate(t *testing.T) {
	srv, seen := chatServer(t, func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  FINAL_BULK_JSON: {} "}}]}`))
	})
	b, err := NewChatBackend(srv.URL+"/v1", "sk-test", "qwen-max", nil, time.Second)
	require.NoError(t, err)

	out, err := b.Generate(context.Background(), "sys", "prompt", 1400)
	require.NoError(t, err)
	assert.Equal(t, "FINAL_BULK_JSON: {}", out)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, "/v1/chat/completions", req.Path)
	assert.Equal(t, "Bearer sk-test", req.Auth)
	assert.Equal(t, "qwen-max", req.Body.Model)
	assert.Equal(t, 1400, req.Body.MaxTokens)
	require.Len(t, req.Body.Messages, 2)
	assert.Equal(t, "system", req.Body.Messages[0].Role)
	assert.Equal(t, "prompt", req.Body.Messages[1].Content)
}

func TestChatBackend_RetriesWithoutSystem(t *testing.T) {
	srv, seen := chatServer(t,
		func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"system role unsupported"}}`))
		},
		func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"output":{"text":"ok"}}`))
		},
	)
	b, err := NewChatBackend(srv.URL, "", "m", nil, time.Second)
	require.NoError(t, err)

	out, err := b.Generate(context.Background(), "sys", "p", 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	require.Len(t, *seen, 2)
	assert.Len(t, (*seen)[1].Body.Messages, 1)
	assert.Empty(t, (*seen)[1].Auth)
}

func TestChatBackend_AllAttemptsFail(t *testing.T) {
	fail := func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"success":false,"msg":"quota exceeded"}`))
	}
	srv, _ := chatServer(t, fail, fail)
	b, err := NewChatBackend(srv.URL, "k", "m", nil, time.Second)
	require.NoError(t, err)

	_, err = b.Generate(context.Background(), "sys", "p", 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAssistantCallFailed))
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestReplyContent(t *testing.T) {
	assert.Equal(t, "a", replyContent([]byte(`{"choices":[{"text":"a"}]}`)))
	assert.Equal(t, "b", replyContent([]byte(`{"data":{"result":"b"}}`)))
	assert.Equal(t, "plain reply", replyContent([]byte("plain reply")))
	assert.Equal(t, "", replyContent([]byte(`{"choices":[]}`)))
	assert.Equal(t, "", replyContent([]byte(`[1,2]`)))
}

func TestReplyError(t *testing.T) {
	assert.Equal(t, "bad key", replyError([]byte(`{"error":{"code":"401","message":"bad key"}}`)))
	assert.Equal(t, "denied", replyError([]byte(`{"error":"denied"}`)))
	assert.Equal(t, "error code 500", replyError([]byte(`{"code":500}`)))
	assert.Equal(t, "", replyError([]byte(`{"code":0,"choices":[]}`)))
	assert.Equal(t, "", replyError([]byte(`not json`)))
}

func TestNewChatBackend_Validation(t *testing.T) {
	_, err := NewChatBackend("", "k", "m", nil, time.Second)
	assert.Error(t, err)
	_, err = NewChatBackend("http://x", "k", " ", nil, time.Second)
	assert.Error(t, err)
}
