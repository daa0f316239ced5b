package messaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/metrics"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"golang.org/x/time/rate"
)

// DefaultSendTimeout bounds every Evolution API request.
const DefaultSendTimeout = 5 * time.Second

// maxMediaBytes caps a decoded audio download.
const maxMediaBytes = 25 << 20

// EvolutionOpts configures an EvolutionClient.
type EvolutionOpts struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	SendRPS    float64
	HTTPClient *http.Client
	Metrics    *metrics.Collector
}

// EvolutionClient talks to an Evolution API server. Sends go through a
// client-side token bucket shared by all instances.
type EvolutionClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Collector
}

var (
	_ Service      = (*EvolutionClient)(nil)
	_ MediaFetcher = (*EvolutionClient)(nil)
)

func NewEvolutionClient(opts EvolutionOpts) (*EvolutionClient, error) {
	if opts.BaseURL == "" || opts.APIKey == "" {
		return nil, fmt.Errorf("evolution base URL and API key must be provided")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSendTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	burst := 1
	if opts.SendRPS > 0 {
		limit = rate.Limit(opts.SendRPS)
		burst = int(opts.SendRPS)
		if burst < 1 {
			burst = 1
		}
	}
	return &EvolutionClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    client,
		limiter: rate.NewLimiter(limit, burst),
		metrics: opts.Metrics,
	}, nil
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendText posts {number, text} to /message/sendText/{instance}.
func (c *EvolutionClient) SendText(ctx context.Context, instance, to, text string) bool {
	log := logx.Ctx(ctx)
	if err := c.limiter.Wait(ctx); err != nil {
		log.Error().Err(err).Str("event", "send_text_error").Msg("EvolutionClient.SendText: rate limiter wait failed")
		c.metrics.RecordDelivery(ProviderEvolution, false)
		return false
	}

	url := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, instance)
	status, _, err := c.post(ctx, url, sendTextRequest{Number: to, Text: text})
	if err != nil {
		log.Error().Err(err).Str("event", "send_text_error").Msg("EvolutionClient.SendText: request failed")
		c.metrics.RecordDelivery(ProviderEvolution, false)
		return false
	}
	if status < 200 || status >= 300 {
		log.Error().Int("status", status).Str("event", "send_text_failed").Msg("EvolutionClient.SendText: non-2xx response")
		c.metrics.RecordDelivery(ProviderEvolution, false)
		return false
	}
	log.Info().Str("event", "message_sent").Msg("EvolutionClient.SendText: delivered")
	c.metrics.RecordDelivery(ProviderEvolution, true)
	return true
}

type mediaRequest struct {
	Message struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	} `json:"message"`
	ConvertToMp4 bool `json:"convertToMp4"`
}

type mediaResponse struct {
	FileName string `json:"fileName"`
	Mimetype string `json:"mimetype"`
	Base64   string `json:"base64"`
}

// FetchAudio asks Evolution for the base64 body of msg's media.
func (c *EvolutionClient) FetchAudio(ctx context.Context, msg models.NormalizedMessage) ([]byte, string, error) {
	var req mediaRequest
	req.Message.Key.ID = msg.MessageID

	url := fmt.Sprintf("%s/chat/getBase64FromMediaMessage/%s", c.baseURL, msg.Instance)
	status, body, err := c.post(ctx, url, req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, "", fmt.Errorf("fetch media: HTTP %d", status)
	}

	var resp mediaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("decode media response: %w", err)
	}
	if resp.Base64 == "" {
		return nil, "", ErrMediaUnavailable
	}
	audio, err := base64.StdEncoding.DecodeString(resp.Base64)
	if err != nil {
		return nil, "", fmt.Errorf("decode media base64: %w", err)
	}
	name := resp.FileName
	if name == "" {
		name = msg.MessageID + ".ogg"
	}
	return audio, name, nil
}

func (c *EvolutionClient) post(ctx context.Context, url string, payload any) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes*2))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
