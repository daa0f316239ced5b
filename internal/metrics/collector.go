// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "flowpipe"

// Collector groups every FlowPipe metric. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// LLM
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec
	transcriptions     *prometheus.CounterVec

	// Conversation
	inboundTotal    *prometheus.CounterVec
	flowSteps       *prometheus.CounterVec
	safetyOverrides *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
}

// NewCollector registers all metrics on a fresh registry.
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.NewRegistry())
}

// NewCollectorWithRegistry registers all metrics on reg.
func NewCollectorWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)
	c := &Collector{registry: reg}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of generative model calls",
		},
		[]string{"provider", "model", "task", "status"},
	)
	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Generative model call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"provider", "model"},
	)
	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens reported by providers",
		},
		[]string{"provider", "model"},
	)
	c.transcriptions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "transcriptions_total",
			Help:      "Speech-to-text calls by outcome",
		},
		[]string{"provider", "status"},
	)

	c.inboundTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by processing outcome",
		},
		[]string{"outcome"},
	)
	c.flowSteps = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "flow_steps_total",
			Help:      "Executed flow steps by outcome",
		},
		[]string{"flow", "step", "outcome"},
	)
	c.safetyOverrides = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "safety_overrides_total",
			Help:      "Provider refusals for policy reasons",
		},
		[]string{"source"},
	)
	c.deliveries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "outbound_deliveries_total",
			Help:      "Outbound message deliveries by provider and result",
		},
		[]string{"provider", "status"},
	)

	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLLMRequest records one gateway call.
func (c *Collector) RecordLLMRequest(provider, model, task, status string, duration time.Duration, tokens int) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(provider, model, task, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if tokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model).Add(float64(tokens))
	}
}

// RecordTranscription records one speech-to-text call.
func (c *Collector) RecordTranscription(provider, status string) {
	if c == nil {
		return
	}
	c.transcriptions.WithLabelValues(provider, status).Inc()
}

// RecordInbound records how an inbound message was handled.
func (c *Collector) RecordInbound(outcome string) {
	if c == nil {
		return
	}
	c.inboundTotal.WithLabelValues(outcome).Inc()
}

// RecordFlowStep records one engine step.
func (c *Collector) RecordFlowStep(flow, step, outcome string) {
	if c == nil {
		return
	}
	c.flowSteps.WithLabelValues(flow, step, outcome).Inc()
}

// RecordSafetyOverride records a policy refusal seen at source.
func (c *Collector) RecordSafetyOverride(source string) {
	if c == nil {
		return
	}
	c.safetyOverrides.WithLabelValues(source).Inc()
}

// RecordDelivery records an outbound send attempt.
func (c *Collector) RecordDelivery(provider string, ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	c.deliveries.WithLabelValues(provider, status).Inc()
}
