package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/prompts"
	"github.com/BTreeMap/FlowPipe/internal/util"
)

// KeywordConfidence is reported for keyword-tier shifts.
const KeywordConfidence = 0.95

type keywordRule struct {
	keyword string
	flow    models.FlowType
}

// keywordRules are checked in order; the first substring hit wins. Keywords
// are stored folded.
var keywordRules = buildKeywordRules(map[models.FlowType][]string{
	models.FlowDigitalCertificate: {
		"certificado digital", "e-cpf", "e-cnpj", "ecpf", "ecnpj",
		"certificado a1", "certificado a3", "certificado e-cpf", "certificado e-cnpj",
	},
	models.FlowBilling: {
		"boleto", "fatura", "pagamento", "cobrança", "nota fiscal",
		"segunda via", "financeiro", "nf-e", "nfe",
	},
	models.FlowGeneralSupport: {
		"atendente", "humano", "falar com alguém", "falar com uma pessoa", "suporte",
	},
})

func buildKeywordRules(byFlow map[models.FlowType][]string) []keywordRule {
	var rules []keywordRule
	for _, flow := range models.AllFlowTypes {
		for _, kw := range byFlow[flow] {
			rules = append(rules, keywordRule{keyword: util.Fold(kw), flow: flow})
		}
	}
	return rules
}

// MatchKeyword returns the flow whose keyword appears in text, if any.
func MatchKeyword(text string) (models.FlowType, bool) {
	folded := util.Fold(text)
	for _, r := range keywordRules {
		if strings.Contains(folded, r.keyword) {
			return r.flow, true
		}
	}
	return "", false
}

// ShiftDetector decides whether a user inside a flow wants another one.
type ShiftDetector interface {
	DetectShift(ctx context.Context, text string, current models.FlowType, history []models.ChatMessage) (*models.ClassificationResult, error)
}

// TopicShiftDetector runs a keyword tier and then a continuity-biased model tier.
type TopicShiftDetector struct {
	llm genai.Caller
}

func NewTopicShiftDetector(llm genai.Caller) *TopicShiftDetector {
	return &TopicShiftDetector{llm: llm}
}

// DetectShift returns the new flow, or nil when the user stays. Model
// failures and low confidence mean no shift; only safety overrides are
// returned as errors.
func (d *TopicShiftDetector) DetectShift(ctx context.Context, text string, current models.FlowType, history []models.ChatMessage) (*models.ClassificationResult, error) {
	log := logx.Ctx(ctx)

	if flow, ok := MatchKeyword(text); ok {
		if flow == current {
			return nil, nil
		}
		log.Info().
			Str("event", "topic_shift_keyword_detected").
			Str("from_flow", string(current)).
			Str("to_flow", string(flow)).
			Msg("TopicShiftDetector.DetectShift: keyword match")
		return &models.ClassificationResult{
			Flow:       flow,
			Confidence: KeywordConfidence,
			Reason:     fmt.Sprintf("Keyword match: %q", util.Truncate(text, 50)),
		}, nil
	}

	p, err := prompts.Render(ctx, prompts.TopicShift, map[string]any{
		"CurrentFlow": string(current),
		"History":     FormatHistory(history),
		"Text":        text,
	})
	if err != nil {
		log.Error().Err(err).Msg("TopicShiftDetector.DetectShift: prompt render failed")
		return nil, nil
	}

	resp, err := d.llm.Call(ctx, p.System, p.User, genai.WithTask(genai.TaskDetectTopicShift))
	if err != nil {
		if genai.IsSafetyOverride(err) {
			return nil, err
		}
		log.Warn().Err(err).
			Str("event", "topic_shift_llm_error").
			Msg("TopicShiftDetector.DetectShift: model call failed, keeping flow")
		return nil, nil
	}

	var payload flowPayload
	if err := decodeObject(resp.Content, &payload); err != nil {
		log.Warn().
			Str("event", "topic_shift_invalid_json").
			Str("raw_content", preview(resp.Content)).
			Msg("TopicShiftDetector.DetectShift: unparsable output, keeping flow")
		return nil, nil
	}
	result, err := payload.validate()
	if err != nil {
		log.Warn().
			Str("event", "topic_shift_schema_validation_failed").
			Msg("TopicShiftDetector.DetectShift: schema mismatch, keeping flow")
		return nil, nil
	}

	if result.Flow != current && result.Flow != models.FlowUnknown && result.Confidence >= models.ConfidenceAccept {
		log.Info().
			Str("event", "topic_shift_llm_detected").
			Str("from_flow", string(current)).
			Str("to_flow", string(result.Flow)).
			Float64("confidence", result.Confidence).
			Msg("TopicShiftDetector.DetectShift: model detected shift")
		return result, nil
	}
	return nil, nil
}
