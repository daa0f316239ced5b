package classify

import (
	"context"
	"fmt"

	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/prompts"
)

// SubrouteOption is a subroute offered to the model.
type SubrouteOption = prompts.SubrouteOption

// SubrouteResult is the Subroute Router output. Subroute is nil when the model
// could not pick one.
type SubrouteResult struct {
	Subroute   *string
	Confidence float64
	Reason     string
}

// SubrouteClassifier picks a subroute inside a flow.
type SubrouteClassifier interface {
	ClassifySubroute(ctx context.Context, text string, flow models.FlowType, options []SubrouteOption, history []models.ChatMessage) (*SubrouteResult, error)
}

// SubrouteRouter is the model-backed SubrouteClassifier.
type SubrouteRouter struct {
	llm genai.Caller
}

func NewSubrouteRouter(llm genai.Caller) *SubrouteRouter {
	return &SubrouteRouter{llm: llm}
}

type subroutePayload struct {
	Subroute   *string  `json:"subroute"`
	Confidence *float64 `json:"confidence"`
	Reason     *string  `json:"reason"`
}

// ClassifySubroute asks the model to choose among options. An id outside
// options is reported as invalid_subroute.
func (r *SubrouteRouter) ClassifySubroute(ctx context.Context, text string, flow models.FlowType, options []SubrouteOption, history []models.ChatMessage) (*SubrouteResult, error) {
	log := logx.Ctx(ctx).With().Str("flow", string(flow)).Logger()
	if len(options) == 0 {
		return nil, schemaError("flow %s declares no subroutes", flow)
	}

	p, err := prompts.Render(ctx, prompts.Subroute, map[string]any{
		"Flow":      string(flow),
		"Subroutes": options,
		"History":   FormatHistory(history),
		"Text":      text,
	})
	if err != nil {
		return nil, &Failure{Kind: KindLLMError, Err: err}
	}

	resp, err := r.llm.Call(ctx, p.System, p.User, genai.WithTask(genai.TaskClassifySubroute))
	if err != nil {
		log.Error().Err(err).
			Str("event", "classify_subroute_llm_error").
			Msg("SubrouteRouter.ClassifySubroute: model call failed")
		return nil, callFailure(err)
	}

	var payload subroutePayload
	if err := decodeObject(resp.Content, &payload); err != nil {
		log.Warn().
			Str("event", "classify_subroute_invalid_json").
			Str("raw_content", preview(resp.Content)).
			Msg("SubrouteRouter.ClassifySubroute: unparsable output")
		return nil, err
	}
	if !validConfidence(payload.Confidence) || payload.Reason == nil || len([]rune(*payload.Reason)) > MaxReasonLength {
		log.Warn().
			Str("event", "classify_subroute_schema_failed").
			Str("raw_content", preview(resp.Content)).
			Msg("SubrouteRouter.ClassifySubroute: schema mismatch")
		return nil, schemaError("confidence or reason invalid")
	}

	if payload.Subroute != nil {
		valid := false
		for _, o := range options {
			if o.ID == *payload.Subroute {
				valid = true
				break
			}
		}
		if !valid {
			log.Warn().
				Str("event", "classify_subroute_invalid_id").
				Str("subroute", *payload.Subroute).
				Msg("SubrouteRouter.ClassifySubroute: id not declared by flow")
			return nil, &Failure{Kind: KindInvalidSubroute, Err: fmt.Errorf("subroute %q not declared by %s", *payload.Subroute, flow)}
		}
	}

	return &SubrouteResult{
		Subroute:   payload.Subroute,
		Confidence: *payload.Confidence,
		Reason:     *payload.Reason,
	}, nil
}
