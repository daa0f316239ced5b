package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// openaiBackend talks to any OpenAI-compatible chat completions endpoint.
type openaiBackend struct {
	providerID string
	baseURL    string
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*openai.Client
}

func newOpenAIBackend(providerID, baseURL string, httpClient *http.Client) *openaiBackend {
	return &openaiBackend{
		providerID: providerID,
		baseURL:    baseURL,
		httpClient: httpClient,
		clients:    make(map[string]*openai.Client),
	}
}

func (b *openaiBackend) client(key string) *openai.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[key]; ok {
		return c
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if b.baseURL != "" {
		opts = append(opts, option.WithBaseURL(b.baseURL))
	}
	if b.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(b.httpClient))
	}
	c := openai.NewClient(opts...)
	b.clients[key] = &c
	return &c
}

func (b *openaiBackend) complete(ctx context.Context, key string, req request) (completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := b.client(key).Chat.Completions.New(ctx, params)
	if err != nil {
		return completion{}, b.classify(err)
	}
	if len(resp.Choices) == 0 {
		return completion{}, ErrNoChoicesReturned
	}
	return completion{
		Content: resp.Choices[0].Message.Content,
		Tokens:  int(resp.Usage.TotalTokens),
	}, nil
}

func (b *openaiBackend) classify(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return &rateLimitError{err: err}
	case http.StatusBadRequest:
		if gen, ok := safetyOverrideGeneration(openaiErrorBody(apiErr)); ok {
			return &SafetyOverrideError{Provider: b.providerID, FailedGeneration: gen}
		}
	}
	return err
}

func openaiErrorBody(apiErr *openai.Error) []byte {
	if apiErr.Response != nil && apiErr.Response.Body != nil {
		if body, err := io.ReadAll(apiErr.Response.Body); err == nil && len(body) > 0 {
			return body
		}
	}
	return []byte(apiErr.RawJSON())
}

type validateFailure struct {
	Code             string `json:"code"`
	FailedGeneration string `json:"failed_generation"`
}

// safetyOverrideGeneration inspects a 400 body for json_validate_failed with a
// model-authored failed_generation. Operational messages from the backend
// itself are not refusals.
func safetyOverrideGeneration(body []byte) (string, bool) {
	var envelope struct {
		validateFailure
		Error *validateFailure `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", false
	}
	f := envelope.validateFailure
	if envelope.Error != nil {
		f = *envelope.Error
	}
	if f.Code != "json_validate_failed" || f.FailedGeneration == "" {
		return "", false
	}
	if strings.Contains(f.FailedGeneration, "max completion tokens") ||
		strings.Contains(f.FailedGeneration, "failed to generate") {
		return "", false
	}
	return f.FailedGeneration, true
}

func (b *openaiBackend) transcribe(ctx context.Context, key, model string, audio []byte, fileName, prompt string) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:        openai.File(bytes.NewReader(audio), fileName, "audio/ogg"),
		Model:       openai.AudioModel(model),
		Language:    openai.String("pt"),
		Prompt:      openai.String(prompt),
		Temperature: openai.Float(0),
	}
	resp, err := b.client(key).Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", b.classify(err)
	}
	return resp.Text, nil
}
