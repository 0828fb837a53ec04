package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

const maxReplyBytes = 4 << 20

var v1Segment = regexp.MustCompile(`/v1(?:$|/)`)

// contentPaths are the reply locations tried in order. Besides the
// chat-completions shape they cover the wrappers used by common gateways.
var contentPaths = []string{
	"choices.0.message.content",
	"choices.0.text",
	"output.text",
	"output.content",
	"output.message.content",
	"output.choices.0.message.content",
	"data.choices.0.message.content",
	"data.choices.0.text",
	"data.output.text",
	"data.output.content",
	"data.result",
	"result",
	"answer",
	"response",
	"content",
	"text",
}

// ResolveChatURL turns a configured base URL into a chat-completions URL.
// A URL already ending in /chat/completions is kept, one containing a /v1
// segment gets /chat/completions appended, anything else gets
// /v1/chat/completions.
func ResolveChatURL(base string) (string, error) {
	u := strings.TrimRight(strings.TrimSpace(base), "/")
	if u == "" {
		return "", errors.InvalidParam("base URL is empty")
	}
	lower := strings.ToLower(u)
	switch {
	case strings.HasSuffix(lower, "/chat/completions"):
		return u, nil
	case v1Segment.MatchString(lower):
		return u + "/chat/completions", nil
	default:
		return u + "/v1/chat/completions", nil
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatBackend calls an OpenAI-compatible chat-completions endpoint.
type ChatBackend struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewChatBackend builds a backend for baseURL. A nil client gets one with
// the given timeout.
func NewChatBackend(baseURL, apiKey, model string, client *http.Client, timeout time.Duration) (*ChatBackend, error) {
	url, err := ResolveChatURL(baseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.InvalidParam("model is empty")
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &ChatBackend{url: url, apiKey: strings.TrimSpace(apiKey), model: strings.TrimSpace(model), client: client}, nil
}

// Generate sends prompt with the system instruction. When the endpoint
// rejects that or answers without content, the prompt is resent as a lone
// user message.
func (b *ChatBackend) Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	var attempts []string
	for _, withSystem := range []bool{true, false} {
		if !withSystem && system == "" {
			break
		}
		label := "chat(user)"
		msgs := []chatMessage{{Role: "user", Content: prompt}}
		if withSystem && system != "" {
			label = "chat(system)"
			msgs = append([]chatMessage{{Role: "system", Content: system}}, msgs...)
		}
		content, err := b.post(ctx, chatRequest{Model: b.model, Messages: msgs, MaxTokens: maxTokens})
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil {
			return "", err
		}
		attempts = append(attempts, label+": "+err.Error())
	}
	return "", errors.New(errors.ErrCodeAssistantCallFailed, "assistant call failed").
		WithDetail(strings.Join(attempts, "; "))
}

func (b *ChatBackend) post(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
		req.Header.Set("X-API-Key", b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if msg := replyError(raw); msg != "" {
			return "", fmt.Errorf("%d: %s", resp.StatusCode, msg)
		}
		return "", fmt.Errorf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if msg := replyError(raw); msg != "" {
		return "", fmt.Errorf("%s", msg)
	}
	content := replyContent(raw)
	if content == "" {
		return "", fmt.Errorf("unexpected reply format")
	}
	return content, nil
}

// replyContent extracts the completion text. A reply that is not JSON is
// returned as is.
func replyContent(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return strings.TrimSpace(string(raw))
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		if doc.Type == gjson.String {
			return strings.TrimSpace(doc.String())
		}
		return ""
	}
	for _, p := range contentPaths {
		if r := doc.Get(p); r.Type == gjson.String && strings.TrimSpace(r.String()) != "" {
			return strings.TrimSpace(r.String())
		}
	}
	return ""
}

// replyError reports the provider error carried by a reply, or "".
func replyError(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return ""
	}
	if e := doc.Get("error"); e.Exists() {
		if e.IsObject() {
			for _, k := range []string{"message", "msg", "detail", "code", "type"} {
				if v := e.Get(k); v.Exists() && v.String() != "" {
					return v.String()
				}
			}
		} else if e.String() != "" {
			return e.String()
		}
	}
	msg := firstString(doc, "message", "msg", "detail")
	if ok := doc.Get("success"); ok.Exists() && ok.Type == gjson.False {
		if msg == "" {
			msg = "request failed"
		}
		return msg
	}
	if code := doc.Get("code"); code.Type == gjson.Number && code.Int() != 0 && code.Int() != 200 {
		if msg == "" {
			msg = fmt.Sprintf("error code %d", code.Int())
		}
		return msg
	}
	return ""
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
