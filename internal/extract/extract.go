// Package extract pulls structured fields out of free-form (often transcribed)
// user messages: deterministic fast paths first, a model fallback second.
package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/prompts"
	"github.com/BTreeMap/FlowPipe/internal/util"
)

// Field names, also used as data keys by the flows.
const (
	FieldPersonType = "person_type"
	FieldCPFCNPJ    = "cpf_cnpj"
	FieldEmail      = "email"
	FieldPhone      = "phone"
)

// Fast-path confidences.
const (
	FastPathConfidence      = 0.95
	EmailFastPathConfidence = 0.9
)

// MaxExtractionTokens caps the fallback call.
const MaxExtractionTokens = 200

// Source tells where a value came from.
type Source string

const (
	SourceNone     Source = ""
	SourceFastPath Source = "fast_path"
	SourceLLM      Source = "llm"
)

// Result is an extraction outcome. Value is empty when nothing was accepted.
type Result struct {
	Value      string
	Confidence float64
	Source     Source
}

// Found reports whether a value was accepted.
func (r Result) Found() bool { return r.Value != "" }

// Extractor is the model-backed field extractor.
type Extractor struct {
	llm genai.Caller
}

func New(llm genai.Caller) *Extractor {
	return &Extractor{llm: llm}
}

var (
	pfPattern = regexp.MustCompile(`\b(pf|pessoa fisica|fisica)\b`)
	pjPattern = regexp.MustCompile(`\b(pj|pessoa juridica|juridica|empresa|cnpj)\b`)
)

// PersonType returns "PF" or "PJ".
func (e *Extractor) PersonType(ctx context.Context, text string) (Result, error) {
	folded := util.Fold(text)
	pf, pj := pfPattern.MatchString(folded), pjPattern.MatchString(folded)
	switch {
	case pf && !pj:
		return fastPath(ctx, FieldPersonType, PersonPF, FastPathConfidence), nil
	case pj && !pf:
		return fastPath(ctx, FieldPersonType, PersonPJ, FastPathConfidence), nil
	}

	r, err := e.fallback(ctx, FieldPersonType,
		`Tipo de pessoa: "PF" para pessoa física ou "PJ" para pessoa jurídica (empresa).`, text)
	if err != nil || !r.Found() {
		return r, err
	}
	r.Value = strings.ToUpper(strings.TrimSpace(r.Value))
	if r.Value != PersonPF && r.Value != PersonPJ {
		return Result{}, nil
	}
	return r, nil
}

// CPFCNPJ returns the document digits. personType selects the expected length.
func (e *Extractor) CPFCNPJ(ctx context.Context, text, personType string) (Result, error) {
	digits := ExtractDigits(text)
	if len(digits) == ExpectedDocLength(personType) {
		return fastPath(ctx, FieldCPFCNPJ, digits, FastPathConfidence), nil
	}

	doc := "CPF (11 dígitos)"
	if personType == PersonPJ {
		doc = "CNPJ (14 dígitos)"
	}
	r, err := e.fallback(ctx, FieldCPFCNPJ,
		"Número de "+doc+", somente dígitos, sem pontos, barras ou traços.", text)
	if err != nil || !r.Found() {
		return r, err
	}
	r.Value = ExtractDigits(r.Value)
	if r.Value == "" {
		return Result{}, nil
	}
	return r, nil
}

var emailInText = regexp.MustCompile(`[^\s@]+@[^\s@]+\.[^\s@]+`)

// Email returns a lowercased address.
func (e *Extractor) Email(ctx context.Context, text string) (Result, error) {
	if m := emailInText.FindString(NormalizeSpokenEmail(text)); m != "" {
		return fastPath(ctx, FieldEmail, strings.TrimRight(m, ".,;:!?"), EmailFastPathConfidence), nil
	}

	r, err := e.fallback(ctx, FieldEmail,
		"Endereço de e-mail. Converta \"arroba\" em @ e \"ponto\" em . quando ditado.", text)
	if err != nil || !r.Found() {
		return r, err
	}
	r.Value = strings.ToLower(strings.ReplaceAll(r.Value, " ", ""))
	return r, nil
}

// Phone returns 10 or 11 digits when found on the fast path, or whatever
// digits the model produced.
func (e *Extractor) Phone(ctx context.Context, text string) (Result, error) {
	digits := ExtractDigits(text)
	if len(digits) >= 10 && len(digits) <= 11 {
		return fastPath(ctx, FieldPhone, digits, FastPathConfidence), nil
	}

	r, err := e.fallback(ctx, FieldPhone,
		"Telefone brasileiro com DDD, somente dígitos (10 ou 11 dígitos).", text)
	if err != nil || !r.Found() {
		return r, err
	}
	r.Value = ExtractDigits(r.Value)
	if r.Value == "" {
		return Result{}, nil
	}
	return r, nil
}

func fastPath(ctx context.Context, field, value string, confidence float64) Result {
	logx.Ctx(ctx).Info().
		Str("event", "extract_fast_path").
		Str("field", field).
		Msg("Extractor: fast path hit")
	return Result{Value: value, Confidence: confidence, Source: SourceFastPath}
}

// fallback asks the model for {<field>: value|null, confidence}. Only safety
// overrides are returned as errors; every other failure is "not found".
func (e *Extractor) fallback(ctx context.Context, field, instructions, text string) (Result, error) {
	log := logx.Ctx(ctx).With().Str("field", field).Logger()

	p, err := prompts.Render(ctx, prompts.Extract, map[string]any{
		"Field":        field,
		"Instructions": instructions,
		"Text":         text,
	})
	if err != nil {
		log.Error().Err(err).Msg("Extractor.fallback: prompt render failed")
		return Result{}, nil
	}

	resp, err := e.llm.Call(ctx, p.System, p.User,
		genai.WithTask(genai.TaskExtractData),
		genai.WithMaxTokens(MaxExtractionTokens))
	if err != nil {
		if genai.IsSafetyOverride(err) {
			return Result{}, err
		}
		log.Error().Err(err).Str("event", "extract_llm_error").Msg("Extractor.fallback: model call failed")
		return Result{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &raw); err != nil {
		log.Warn().Str("event", "extract_invalid_json").Str("raw_content", util.Truncate(resp.Content, 200)).
			Msg("Extractor.fallback: unparsable output")
		return Result{}, nil
	}
	var value *string
	var confidence *float64
	if err := json.Unmarshal(raw[field], &value); err != nil && raw[field] != nil {
		log.Warn().Str("event", "extract_schema_failed").Msg("Extractor.fallback: value is not a string")
		return Result{}, nil
	}
	if err := json.Unmarshal(raw["confidence"], &confidence); err != nil || confidence == nil || *confidence < 0 || *confidence > 1 {
		log.Warn().Str("event", "extract_schema_failed").Msg("Extractor.fallback: confidence missing or invalid")
		return Result{}, nil
	}

	if value == nil || strings.TrimSpace(*value) == "" || *confidence < models.ConfidenceAccept {
		log.Info().
			Str("event", "extract_llm_rejected").
			Float64("confidence", *confidence).
			Msg("Extractor.fallback: no confident value")
		return Result{}, nil
	}
	return Result{Value: strings.TrimSpace(*value), Confidence: *confidence, Source: SourceLLM}, nil
}
