package assistant

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// GeminiBackend calls the Gemini API through the genai SDK.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend builds a backend for model. An empty baseURL uses the
// public Gemini endpoint.
func NewGeminiBackend(ctx context.Context, baseURL, apiKey, model string, httpClient *http.Client) (*GeminiBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.InvalidParam("gemini API key is empty")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.InvalidParam("model is empty")
	}
	cfg := &genai.ClientConfig{
		APIKey:     strings.TrimSpace(apiKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if u := strings.TrimSpace(baseURL); u != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(u, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "failed to create gemini client")
	}
	return &GeminiBackend{client: client, model: strings.TrimSpace(model)}, nil
}

// Generate implements Backend.
func (b *GeminiBackend) Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	gc := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(prompt), gc)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeAssistantCallFailed, "gemini call failed")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New(errors.ErrCodeAssistantEmptyReply, "gemini returned no text")
	}
	return text, nil
}
