package classify

import (
	"context"

	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/prompts"
)

// FlowClassifier picks the flow for a user without an active session.
type FlowClassifier interface {
	ClassifyFlow(ctx context.Context, text string, history []models.ChatMessage) (*models.ClassificationResult, error)
}

// GlobalRouter is the model-backed FlowClassifier.
type GlobalRouter struct {
	llm genai.Caller
}

func NewGlobalRouter(llm genai.Caller) *GlobalRouter {
	return &GlobalRouter{llm: llm}
}

// ClassifyFlow returns the model's {flow, confidence, reason}. Gating on the
// confidence is left to the caller.
func (r *GlobalRouter) ClassifyFlow(ctx context.Context, text string, history []models.ChatMessage) (*models.ClassificationResult, error) {
	p, err := prompts.Render(ctx, prompts.GlobalRouter, map[string]any{
		"History": FormatHistory(history),
		"Text":    text,
	})
	if err != nil {
		return nil, &Failure{Kind: KindLLMError, Err: err}
	}

	resp, err := r.llm.Call(ctx, p.System, p.User, genai.WithTask(genai.TaskClassifyFlow))
	if err != nil {
		return nil, callFailure(err)
	}

	var payload flowPayload
	if err := decodeObject(resp.Content, &payload); err != nil {
		logx.Ctx(ctx).Warn().
			Str("event", "llm_invalid_json").
			Str("raw_content", preview(resp.Content)).
			Msg("GlobalRouter.ClassifyFlow: unparsable output")
		return nil, err
	}
	result, err := payload.validate()
	if err != nil {
		logx.Ctx(ctx).Warn().
			Str("event", "llm_schema_validation_failed").
			Str("raw_content", preview(resp.Content)).
			Msg("GlobalRouter.ClassifyFlow: schema mismatch")
		return nil, err
	}

	logx.Ctx(ctx).Info().
		Str("event", "flow_classified").
		Str("flow", string(result.Flow)).
		Float64("confidence", result.Confidence).
		Msg("GlobalRouter.ClassifyFlow: classified")
	return result, nil
}
