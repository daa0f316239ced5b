package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	gemini "google.golang.org/genai"
)

// geminiBackend calls the Gemini API through the official SDK.
type geminiBackend struct {
	providerID string
	baseURL    string
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*gemini.Client
}

func newGeminiBackend(providerID, baseURL string, httpClient *http.Client) *geminiBackend {
	return &geminiBackend{
		providerID: providerID,
		baseURL:    baseURL,
		httpClient: httpClient,
		clients:    make(map[string]*gemini.Client),
	}
}

func (b *geminiBackend) client(ctx context.Context, key string) (*gemini.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[key]; ok {
		return c, nil
	}
	cfg := &gemini.ClientConfig{
		APIKey:     key,
		Backend:    gemini.BackendGeminiAPI,
		HTTPClient: b.httpClient,
	}
	if b.baseURL != "" {
		cfg.HTTPOptions = gemini.HTTPOptions{BaseURL: b.baseURL}
	}
	c, err := gemini.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	b.clients[key] = c
	return c, nil
}

func (b *geminiBackend) complete(ctx context.Context, key string, req request) (completion, error) {
	c, err := b.client(ctx, key)
	if err != nil {
		return completion{}, err
	}

	temp := float32(req.Temperature)
	cfg := &gemini.GenerateContentConfig{
		SystemInstruction: gemini.NewContentFromText(req.System, gemini.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   int32(req.MaxTokens),
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.Models.GenerateContent(ctx, req.Model, gemini.Text(req.User), cfg)
	if err != nil {
		return completion{}, classifyGeminiError(err)
	}
	if reason, blocked := geminiBlocked(resp); blocked {
		return completion{}, &SafetyOverrideError{Provider: b.providerID, FailedGeneration: reason}
	}
	if len(resp.Candidates) == 0 {
		return completion{}, ErrNoChoicesReturned
	}

	out := completion{Content: resp.Text()}
	if resp.UsageMetadata != nil {
		out.Tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

func classifyGeminiError(err error) error {
	var apiErr gemini.APIError
	if errors.As(err, &apiErr) && isGeminiRateLimit(apiErr) {
		return &rateLimitError{err: err}
	}
	var apiErrPtr *gemini.APIError
	if errors.As(err, &apiErrPtr) && isGeminiRateLimit(*apiErrPtr) {
		return &rateLimitError{err: err}
	}
	return err
}

func isGeminiRateLimit(e gemini.APIError) bool {
	return e.Code == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED"
}

// geminiBlocked reports a blocked prompt or a candidate stopped for safety.
func geminiBlocked(resp *gemini.GenerateContentResponse) (string, bool) {
	if resp == nil {
		return "", false
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return string(resp.PromptFeedback.BlockReason), true
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil &&
		resp.Candidates[0].FinishReason == gemini.FinishReasonSafety {
		return string(gemini.FinishReasonSafety), true
	}
	return "", false
}
