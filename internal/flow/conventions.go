package flow

import "github.com/BTreeMap/FlowPipe/internal/models"

// Replies shared by the engine and the scripted flows.
const (
	TechnicalErrorReply  = "Desculpe, estou com dificuldades técnicas no momento. Por favor, tente novamente em alguns minutos."
	RestartReply         = "Desculpe, algo deu errado. Vamos recomeçar — como posso te ajudar?"
	ClarifySubrouteReply = "Não tenho certeza do que você precisa nesse assunto. Pode me dizer com mais detalhes?"
	HumanHandoffReply    = "Parece que estamos com dificuldade nesse passo. " +
		"Vou transferir você para um atendente humano que poderá te ajudar melhor. " +
		"Aguarde um momento, por favor."
)

// MaxRetries is the number of failed answers that triggers a human handoff.
const MaxRetries = 3

// Reserved data keys.
const (
	KeyCorrecting  = "_correcting"
	KeyHandoffFlow = "_handoff_flow"
	KeyTurnCount   = "_turn_count"
)

// AskedKey is the re-entrancy flag for field.
func AskedKey(field string) string { return "_asked_" + field }

// RetryKey is the failure counter for field.
func RetryKey(field string) string { return field + "_retry_count" }

// Asked reports whether the question for field was already sent.
func Asked(data models.Data, field string) bool { return data.Bool(AskedKey(field)) }

// Correcting reports whether the user is fixing a single field from the
// confirmation screen.
func Correcting(data models.Data) bool { return data.Bool(KeyCorrecting) }

// Ask sends the question for field and stays on step.
func Ask(field, step, reply string) StepResult {
	return StepResult{
		Reply:     reply,
		NextStep:  step,
		DataPatch: models.Data{AskedKey(field): true},
	}
}

// Retry counts one failed answer for field. The third failure ends the flow
// with the human handoff reply; earlier ones re-ask with reply.
func Retry(data models.Data, field, step, reply string) StepResult {
	count := data.Int(RetryKey(field)) + 1
	if count >= MaxRetries {
		return Handoff(step, models.Data{RetryKey(field): count})
	}
	return StepResult{
		Reply:     reply,
		NextStep:  step,
		DataPatch: models.Data{RetryKey(field): count},
	}
}

// Handoff ends the flow and hands the user to a human.
func Handoff(step string, patch models.Data) StepResult {
	if patch == nil {
		patch = models.Data{}
	}
	patch["handoff_requested"] = true
	return StepResult{Reply: HumanHandoffReply, NextStep: step, DataPatch: patch, Done: true}
}

// Accept records value for field and moves to next, resetting the field's ask
// flag and counter. The reply of an accepted answer already asks the next
// question, so nextField (when set) is marked as asked.
func Accept(field string, value any, next, nextField, reply string) StepResult {
	patch := models.Data{
		field:           value,
		AskedKey(field): false,
		RetryKey(field): 0,
	}
	if nextField != "" {
		patch[AskedKey(nextField)] = true
	}
	return StepResult{Reply: reply, NextStep: next, DataPatch: patch}
}
