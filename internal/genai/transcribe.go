package genai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/prompts"
)

// TranscribeTimeout bounds one speech-to-text attempt.
const TranscribeTimeout = 30 * time.Second

// Transcriber converts voice notes to text through an OpenAI-compatible
// provider. It shares the provider's credential rotation with chat calls.
type Transcriber struct {
	gateway  *Gateway
	provider *provider
	openai   *openaiBackend
	model    string
	timeout  time.Duration
}

// Transcriber returns a speech-to-text client bound to providerID.
func (g *Gateway) Transcriber(providerID, model string) (*Transcriber, error) {
	p, ok := g.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, providerID)
	}
	ob, ok := p.backend.(*openaiBackend)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support transcription", providerID)
	}
	return &Transcriber{gateway: g, provider: p, openai: ob, model: model, timeout: TranscribeTimeout}, nil
}

// Transcribe returns the Portuguese transcription of audio. A connection
// timeout is retried exactly once.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, fileName string) (string, error) {
	name := oggName(fileName)
	text, err := t.attempt(ctx, audio, name)
	if err != nil && isTimeout(err) && ctx.Err() == nil {
		logx.Ctx(ctx).Warn().Err(err).
			Str("event", "stt_timeout_retry").
			Str("provider", t.provider.cfg.ID).
			Msg("Transcriber.Transcribe: timed out, retrying once")
		text, err = t.attempt(ctx, audio, name)
	}
	if err != nil {
		t.gateway.metrics.RecordTranscription(t.provider.cfg.ID, "error")
		return "", err
	}
	t.gateway.metrics.RecordTranscription(t.provider.cfg.ID, "ok")
	return strings.TrimSpace(text), nil
}

func (t *Transcriber) attempt(ctx context.Context, audio []byte, name string) (string, error) {
	var lastErr error
	for i := 0; i < t.provider.rotation.Len(); i++ {
		key := t.provider.rotation.Next()
		attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
		start := time.Now()
		text, err := t.openai.transcribe(attemptCtx, key, t.model, audio, name, prompts.Transcription)
		cancel()
		if err == nil {
			logx.Ctx(ctx).Info().
				Str("event", "stt_call").
				Str("provider", t.provider.cfg.ID).
				Str("model", t.model).
				Int("audio_bytes", len(audio)).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Msg("Transcriber.Transcribe: completed")
			return text, nil
		}
		lastErr = err
		if isRateLimited(err) {
			continue
		}
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return "", fmt.Errorf("%w: %s: %w", ErrAllKeysRateLimited, t.provider.cfg.ID, lastErr)
}

func oggName(fileName string) string {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	if base == "" || base == "." || base == "/" {
		base = "audio"
	}
	return base + ".ogg"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
