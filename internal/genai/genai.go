// Package genai is the model gateway: provider selection, credential rotation,
// rate-limit failover, safety-override detection and per-call telemetry.
package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/metrics"
)

// Provider kinds.
const (
	KindOpenAICompatible = "openai"
	KindGemini           = "gemini"
)

// ProviderConfig describes one model backend and its credentials.
type ProviderConfig struct {
	ID          string
	Kind        string
	BaseURL     string
	Model       string
	Credentials []string
}

// Response is the result of a successful Call.
type Response struct {
	Content    string
	Model      string
	Provider   string
	TokensUsed int
	Duration   time.Duration
}

// Caller is what classifiers, extractors and flows depend on.
type Caller interface {
	Call(ctx context.Context, systemPrompt, userPrompt string, opts ...CallOption) (*Response, error)
}

type provider struct {
	cfg      ProviderConfig
	rotation *Rotation
	backend  backend
}

// Gateway implements Caller over the configured providers.
type Gateway struct {
	providers  map[string]*provider
	routing    map[Task]string
	metrics    *metrics.Collector
	httpClient *http.Client
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics records per-call metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Gateway) { g.metrics = c }
}

// WithHTTPClient overrides the HTTP client used by every backend.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// New builds a gateway. Providers without credentials are left out; routing
// must only reference known tasks and configured providers.
func New(configs []ProviderConfig, routing map[string]string, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		providers: make(map[string]*provider),
		routing:   make(map[Task]string),
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, cfg := range configs {
		if len(cfg.Credentials) == 0 {
			continue
		}
		p := &provider{cfg: cfg, rotation: NewRotation(cfg.Credentials)}
		switch cfg.Kind {
		case KindOpenAICompatible, "":
			p.backend = newOpenAIBackend(cfg.ID, cfg.BaseURL, g.httpClient)
		case KindGemini:
			p.backend = newGeminiBackend(cfg.ID, cfg.BaseURL, g.httpClient)
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", cfg.ID, cfg.Kind)
		}
		g.providers[cfg.ID] = p
	}

	if _, ok := g.providers[DefaultProvider]; !ok {
		return nil, fmt.Errorf("%w: default provider %s has no credentials", ErrProviderNotConfigured, DefaultProvider)
	}

	for task, id := range routing {
		if !validTask(Task(task)) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTask, task)
		}
		if _, ok := g.providers[id]; !ok {
			return nil, fmt.Errorf("%w: %s (routed from %s)", ErrProviderNotConfigured, id, task)
		}
		g.routing[Task(task)] = id
	}
	return g, nil
}

// ProviderFor resolves explicit provider, then task routing, then the default.
func (g *Gateway) ProviderFor(explicit string, task Task) string {
	if explicit != "" {
		return explicit
	}
	if id, ok := g.routing[task]; ok {
		return id
	}
	return DefaultProvider
}

// Call sends one system/user prompt pair. On a rate limit the next credential
// is tried immediately, up to one attempt per credential. Any other error,
// timeouts included, aborts.
func (g *Gateway) Call(ctx context.Context, systemPrompt, userPrompt string, opts ...CallOption) (*Response, error) {
	o := defaultCallOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := g.ProviderFor(o.provider, o.task)
	p, ok := g.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, id)
	}

	req := request{
		System:      systemPrompt,
		User:        userPrompt,
		Model:       p.cfg.Model,
		JSON:        o.jsonMode,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}
	task := string(o.task)
	if task == "" {
		task = "none"
	}
	log := logx.Ctx(ctx)

	var lastErr error
	attempts := p.rotation.Len()
	for attempt := 1; attempt <= attempts; attempt++ {
		key := p.rotation.Next()

		attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
		start := time.Now()
		out, err := p.backend.complete(attemptCtx, key, req)
		cancel()
		duration := time.Since(start)

		if err == nil {
			log.Info().
				Str("event", "llm_call").
				Str("provider", id).
				Str("model", p.cfg.Model).
				Str("task", task).
				Int64("duration_ms", duration.Milliseconds()).
				Int("tokens_used", out.Tokens).
				Msg("Gateway.Call: completed")
			g.metrics.RecordLLMRequest(id, p.cfg.Model, task, "ok", duration, out.Tokens)
			return &Response{
				Content:    out.Content,
				Model:      p.cfg.Model,
				Provider:   id,
				TokensUsed: out.Tokens,
				Duration:   duration,
			}, nil
		}

		lastErr = err
		if isRateLimited(err) {
			log.Warn().
				Str("event", "llm_rate_limited").
				Str("provider", id).
				Int("attempt", attempt).
				Int64("duration_ms", duration.Milliseconds()).
				Msg("Gateway.Call: rate limited, rotating key")
			g.metrics.RecordLLMRequest(id, p.cfg.Model, task, "rate_limited", duration, 0)
			continue
		}

		var so *SafetyOverrideError
		if errors.As(err, &so) {
			log.Info().
				Str("event", "llm_safety_override_detected").
				Str("provider", id).
				Str("task", task).
				Msg("Gateway.Call: safety override")
			g.metrics.RecordLLMRequest(id, p.cfg.Model, task, "safety_override", duration, 0)
			return nil, so
		}

		log.Error().Err(err).
			Str("event", "llm_call_error").
			Str("provider", id).
			Str("task", task).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("Gateway.Call: failed")
		g.metrics.RecordLLMRequest(id, p.cfg.Model, task, "error", duration, 0)
		return nil, fmt.Errorf("%s call failed: %w", id, err)
	}

	return nil, fmt.Errorf("%w: %s: %w", ErrAllKeysRateLimited, id, lastErr)
}
