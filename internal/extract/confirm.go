package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/prompts"
)

// Answer is the outcome of a yes/no question.
type Answer string

const (
	AnswerYes     Answer = "yes"
	AnswerNo      Answer = "no"
	AnswerUnclear Answer = "unclear"
)

var (
	trailingPunct = regexp.MustCompile(`[.,!?]+$`)
	// an answer opening with "não" is a no whatever follows ("não, quero corrigir")
	leadingNo = regexp.MustCompile(`(?i)^(não|nao)\b`)
	// negated affirmatives ("não quero") must win over the bare yes words they contain
	negatedPattern = regexp.MustCompile(`(?i)\b(não|nao)\s+(quero|está|esta|tá|ta|é|e)(\s|,|$)|\b(está|tá|ta) errado\b`)
	yesPattern     = regexp.MustCompile(`(?i)\b(sim|correto|certo|ok|isso|exato|exatamente|confirmo|positivo|yes|está certo|tá certo|ta certo|por favor|pode sim|quero|claro|com certeza|pode ser)\b`)
	noPattern      = regexp.MustCompile(`(?i)\b(não|nao|errado|incorreto|negativo|no|nope)\b`)
)

// MatchConfirmation applies the yes/no word patterns only. Answers carrying
// both yes and no words ("isso não") are unclear so the model decides.
func MatchConfirmation(text string) Answer {
	cleaned := trailingPunct.ReplaceAllString(strings.TrimSpace(text), "")
	if leadingNo.MatchString(cleaned) || negatedPattern.MatchString(cleaned) {
		return AnswerNo
	}
	yes, no := yesPattern.MatchString(cleaned), noPattern.MatchString(cleaned)
	switch {
	case yes && no:
		return AnswerUnclear
	case yes:
		return AnswerYes
	case no:
		return AnswerNo
	}
	return AnswerUnclear
}

// Confirmation matches patterns and falls back to the model for ambiguous
// answers. Model failures yield AnswerUnclear.
func (e *Extractor) Confirmation(ctx context.Context, text string) (Answer, error) {
	if a := MatchConfirmation(text); a != AnswerUnclear {
		return a, nil
	}
	log := logx.Ctx(ctx)

	p, err := prompts.Render(ctx, prompts.Confirm, map[string]any{"Text": text})
	if err != nil {
		return AnswerUnclear, nil
	}
	resp, err := e.llm.Call(ctx, p.System, p.User,
		genai.WithTask(genai.TaskExtractData),
		genai.WithMaxTokens(MaxExtractionTokens))
	if err != nil {
		if genai.IsSafetyOverride(err) {
			return AnswerUnclear, err
		}
		log.Warn().Err(err).Str("event", "confirmation_llm_error").Msg("Extractor.Confirmation: model call failed")
		return AnswerUnclear, nil
	}

	var payload struct {
		Answer Answer `json:"answer"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &payload); err != nil {
		return AnswerUnclear, nil
	}
	switch payload.Answer {
	case AnswerYes, AnswerNo, AnswerUnclear:
		log.Info().
			Str("event", "confirmation_llm_fallback").
			Str("answer", string(payload.Answer)).
			Msg("Extractor.Confirmation: model answered")
		return payload.Answer, nil
	}
	return AnswerUnclear, nil
}
