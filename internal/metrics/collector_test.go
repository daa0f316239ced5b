package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordLLMRequest(t *testing.T) {
	c := NewCollector()

	c.RecordLLMRequest("groq", "gpt-oss", "classify_flow", "ok", 300*time.Millisecond, 120)
	c.RecordLLMRequest("groq", "gpt-oss", "classify_flow", "ok", 200*time.Millisecond, 80)
	c.RecordLLMRequest("groq", "gpt-oss", "classify_flow", "rate_limited", 10*time.Millisecond, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.llmRequestsTotal.WithLabelValues("groq", "gpt-oss", "classify_flow", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmRequestsTotal.WithLabelValues("groq", "gpt-oss", "classify_flow", "rate_limited")))
	assert.Equal(t, 200.0, testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("groq", "gpt-oss")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.llmRequestDuration))
}

func TestCollector_ConversationMetrics(t *testing.T) {
	c := NewCollector()

	c.RecordInbound("duplicate")
	c.RecordFlowStep("billing", "ask_invoice_id", "ok")
	c.RecordSafetyOverride("router")
	c.RecordDelivery("evolution", false)
	c.RecordTranscription("groq", "ok")
	c.RecordHTTPRequest("POST", "/webhook/evolution", 200, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.inboundTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.flowSteps.WithLabelValues("billing", "ask_invoice_id", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.safetyOverrides.WithLabelValues("router")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("evolution", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/webhook/evolution", "200")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordInbound("processed")
		c.RecordLLMRequest("groq", "m", "t", "ok", time.Second, 1)
		c.RecordFlowStep("f", "s", "ok")
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordInbound("processed")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `flowpipe_inbound_messages_total{outcome="processed"} 1`)
}
