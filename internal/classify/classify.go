// Package classify decides which flow and subroute an inbound message belongs to.
//
// Three classifiers share one contract: they call the gateway in JSON mode and
// report failures as *Failure with a Kind, except safety overrides, which are
// returned as the gateway produced them.
package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/util"
)

// FailureKind distinguishes classifier failures.
type FailureKind string

const (
	KindLLMError         FailureKind = "llm_error"
	KindInvalidJSON      FailureKind = "invalid_json"
	KindSchemaValidation FailureKind = "schema_validation"
	KindInvalidSubroute  FailureKind = "invalid_subroute"
)

// Failure is a classifier outcome that produced no usable result.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// FailureKindOf returns the kind of a *Failure in err's chain, or "".
func FailureKindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// MaxReasonLength bounds the reason field returned by the models.
const MaxReasonLength = 200

// callFailure maps a gateway error: safety overrides pass through, anything
// else becomes llm_error.
func callFailure(err error) error {
	if genai.IsSafetyOverride(err) {
		return err
	}
	return &Failure{Kind: KindLLMError, Err: err}
}

// decodeObject parses content as a JSON object into v. Syntax errors and
// non-objects are invalid_json; type mismatches are schema_validation.
func decodeObject(content string, v any) error {
	content = strings.TrimSpace(content)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &Failure{Kind: KindSchemaValidation, Err: err}
		}
		return &Failure{Kind: KindInvalidJSON, Err: err}
	}
	if err := json.Unmarshal([]byte(content), v); err != nil {
		return &Failure{Kind: KindSchemaValidation, Err: err}
	}
	return nil
}

func schemaError(format string, args ...any) error {
	return &Failure{Kind: KindSchemaValidation, Err: fmt.Errorf(format, args...)}
}

func validConfidence(c *float64) bool {
	return c != nil && *c >= 0 && *c <= 1
}

// FormatHistory renders recent messages oldest first as "Usuário:" and
// "Assistente:" lines.
func FormatHistory(history []models.ChatMessage) string {
	if len(history) == 0 {
		return "(sem histórico)"
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		role := "Assistente"
		if m.Direction == models.DirectionIn {
			role = "Usuário"
		}
		lines = append(lines, role+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}

// flowPayload is the JSON shape shared by the Global Router and the topic-shift model tier.
type flowPayload struct {
	Flow       *string  `json:"flow"`
	Confidence *float64 `json:"confidence"`
	Reason     *string  `json:"reason"`
}

func (p flowPayload) validate() (*models.ClassificationResult, error) {
	if p.Flow == nil || !models.FlowType(*p.Flow).Valid() {
		return nil, schemaError("flow missing or not in enumeration")
	}
	if !validConfidence(p.Confidence) {
		return nil, schemaError("confidence missing or outside [0,1]")
	}
	if p.Reason == nil {
		return nil, schemaError("reason missing")
	}
	if len([]rune(*p.Reason)) > MaxReasonLength {
		return nil, schemaError("reason longer than %d characters", MaxReasonLength)
	}
	return &models.ClassificationResult{
		Flow:       models.FlowType(*p.Flow),
		Confidence: *p.Confidence,
		Reason:     *p.Reason,
	}, nil
}

func preview(s string) string {
	return util.Truncate(s, 200)
}
