package flows

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/BTreeMap/FlowPipe/internal/classify"
	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/prompts"
)

// StaticMenu is sent when the conversational reply is unavailable or the
// conversation ran out of turns.
const StaticMenu = "Como posso te ajudar?\n\n" +
	"1️⃣ Certificado Digital\n" +
	"2️⃣ Faturamento\n" +
	"3️⃣ Suporte Geral"

// MaxUnknownTurns bounds the free conversation before the menu is shown.
const MaxUnknownTurns = 5

const stepAwaitingReply = "awaiting_reply"

type unknownSteps struct {
	deps Deps
}

func unknownFlow(deps Deps) *flow.Definition {
	u := &unknownSteps{deps: deps}
	return &flow.Definition{
		ID:      models.FlowUnknown,
		Version: Version,
		Active:  true,
		Steps: flow.Steps{
			models.StepStart:  flow.HandlerFunc(u.start),
			stepAwaitingReply: flow.HandlerFunc(u.awaitingReply),
		},
	}
}

func (u *unknownSteps) start(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	return u.turn(ctx, c, 1)
}

func (u *unknownSteps) awaitingReply(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	return u.turn(ctx, c, c.Data().Int(flow.KeyTurnCount)+1)
}

// turn answers conversationally and hands over to a concrete flow as soon as
// the router is confident about one.
func (u *unknownSteps) turn(ctx context.Context, c *flow.Context, turn int) (flow.StepResult, error) {
	reply, err := u.conversationalReply(ctx, c, turn)
	if err != nil {
		return flow.StepResult{}, err
	}
	if reply == "" {
		return flow.StepResult{Reply: StaticMenu, NextStep: models.StepStart, Done: true}, nil
	}

	target, err := u.handoffTarget(ctx, c)
	if err != nil {
		return flow.StepResult{}, err
	}
	if target != "" {
		return flow.StepResult{
			Reply:     reply,
			NextStep:  models.StepStart,
			DataPatch: models.Data{flow.KeyHandoffFlow: string(target)},
		}, nil
	}

	if turn >= MaxUnknownTurns {
		return flow.StepResult{Reply: StaticMenu, NextStep: models.StepStart, Done: true}, nil
	}
	return flow.StepResult{
		Reply:     reply,
		NextStep:  stepAwaitingReply,
		DataPatch: models.Data{flow.KeyTurnCount: turn},
	}, nil
}

// conversationalReply returns "" when no usable reply was produced.
func (u *unknownSteps) conversationalReply(ctx context.Context, c *flow.Context, turn int) (string, error) {
	log := logx.Ctx(ctx)

	p, err := prompts.Render(ctx, prompts.Conversational, map[string]any{
		"History":   classify.FormatHistory(c.History),
		"Text":      c.Message.Text,
		"TurnCount": turn,
	})
	if err != nil {
		return "", nil
	}
	resp, err := u.deps.LLM.Call(ctx, p.System, p.User, genai.WithTask(genai.TaskConversationalReply))
	if err != nil {
		if genai.IsSafetyOverride(err) {
			return "", err
		}
		log.Warn().Err(err).Str("event", "unknown_conversation_llm_error").Msg("unknown.conversationalReply: model call failed")
		return "", nil
	}

	var payload struct {
		Reply *string `json:"reply"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &payload); err != nil || payload.Reply == nil {
		log.Warn().Str("event", "unknown_conversation_invalid_json").Msg("unknown.conversationalReply: unusable output")
		return "", nil
	}
	return strings.TrimSpace(*payload.Reply), nil
}

func (u *unknownSteps) handoffTarget(ctx context.Context, c *flow.Context) (models.FlowType, error) {
	if u.deps.Router == nil {
		return "", nil
	}
	res, err := u.deps.Router.ClassifyFlow(ctx, c.Message.Text, c.History)
	if err != nil {
		if genai.IsSafetyOverride(err) {
			return "", err
		}
		return "", nil
	}
	if res.Flow == models.FlowUnknown || models.BandOf(res.Confidence) != models.BandAccept {
		return "", nil
	}
	return res.Flow, nil
}
