package flows

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/extract"
	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/prompts"
	"github.com/BTreeMap/FlowPipe/internal/util"
)

const (
	stepAwaitingProblem = "awaiting_problem"
	stepAwaitingHandoff = "awaiting_handoff"
	stepDone            = "done"

	summaryMaxTokens   = 100
	summaryFallbackLen = 50
)

type generalSupportSteps struct {
	deps Deps
}

func generalSupportFlow(deps Deps) *flow.Definition {
	g := &generalSupportSteps{deps: deps}
	return &flow.Definition{
		ID:      models.FlowGeneralSupport,
		Version: Version,
		Active:  true,
		Steps: flow.Steps{
			models.StepStart:    flow.HandlerFunc(g.start),
			stepAwaitingProblem: flow.HandlerFunc(g.awaitingProblem),
			stepAwaitingHandoff: flow.HandlerFunc(g.awaitingHandoff),
		},
	}
}

func (g *generalSupportSteps) start(context.Context, *flow.Context) (flow.StepResult, error) {
	return flow.StepResult{
		Reply:    "Como posso ajudar você?\n\nPor favor, descreva sua dúvida ou problema.",
		NextStep: stepAwaitingProblem,
	}, nil
}

func (g *generalSupportSteps) awaitingProblem(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	problem := c.Message.Text
	summary, err := g.summarize(ctx, problem)
	if err != nil {
		return flow.StepResult{}, err
	}

	return flow.StepResult{
		Reply: "Entendo que você precisa de ajuda com *" + summary + "*.\n\n" +
			"Para melhor atendê-lo, posso transferir você para um atendente humano.\n\n" +
			"Deseja falar com um atendente? (sim/não)",
		NextStep:  stepAwaitingHandoff,
		DataPatch: models.Data{"problem": problem, "summary": summary},
	}, nil
}

// summarize falls back to the first characters of the problem on any
// failure other than a safety override.
func (g *generalSupportSteps) summarize(ctx context.Context, problem string) (string, error) {
	fallback := problem
	if len([]rune(problem)) > summaryFallbackLen {
		fallback = util.Truncate(problem, summaryFallbackLen) + "..."
	}

	p, err := prompts.Render(ctx, prompts.Summarize, map[string]any{"Text": problem})
	if err != nil {
		return fallback, nil
	}
	resp, err := g.deps.LLM.Call(ctx, p.System, p.User,
		genai.WithTask(genai.TaskSummarize),
		genai.WithPlainText(),
		genai.WithMaxTokens(summaryMaxTokens))
	if err != nil {
		if genai.IsSafetyOverride(err) {
			return "", err
		}
		logx.Ctx(ctx).Error().Err(err).
			Str("event", "general_support_summary_error").
			Msg("generalSupport.summarize: model call failed")
		return fallback, nil
	}
	if s := strings.TrimSpace(resp.Content); s != "" {
		return s, nil
	}
	return fallback, nil
}

func (g *generalSupportSteps) awaitingHandoff(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	answer, err := g.deps.Extractor.Confirmation(ctx, c.Message.Text)
	if err != nil {
		return flow.StepResult{}, err
	}

	switch answer {
	case extract.AnswerYes:
		now := g.deps.now()
		protocol := util.ProtocolID(util.ProtocolGeneralSupport, now)
		return flow.StepResult{
			Reply: "Entendido! Vou transferir você para um atendente humano.\n\n" +
				"Seu protocolo de atendimento: *" + protocol + "*\n\n" +
				"Um atendente entrará em contato em breve pelo WhatsApp.",
			NextStep: stepDone,
			DataPatch: models.Data{
				"protocol_id":       protocol,
				"handoff_requested": true,
				"handoff_at":        now.UTC().Format(time.RFC3339),
			},
			Done: true,
		}, nil
	case extract.AnswerNo:
		return flow.StepResult{
			Reply:    "Obrigado! Se precisar de mais ajuda, é só me chamar.",
			NextStep: stepDone,
			Done:     true,
		}, nil
	}
	return flow.StepResult{
		Reply:    "Por favor, responda sim ou não. Deseja falar com um atendente?",
		NextStep: stepAwaitingHandoff,
	}, nil
}
