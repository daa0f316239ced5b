package router

import "github.com/BTreeMap/FlowPipe/internal/models"

// User-facing replies produced outside the scripted flows.
const (
	TopicShiftPrefix   = "Entendi, vamos mudar de assunto. "
	MalformedReply     = "Desculpe, não entendi. Pode reformular sua mensagem?"
	AudioFailedReply   = "Desculpe, não consegui entender o áudio. Pode enviar novamente ou digitar sua mensagem?"
	SafetyOverrideText = "Desculpe, não posso ajudar com esse pedido. " +
		"Posso te ajudar com certificado digital, faturamento ou suporte."
)

// ClarifyFlowReply asks the user to confirm a topic the Global Router was
// only moderately sure about.
func ClarifyFlowReply(suggested models.FlowType) string {
	return "Só para confirmar: você quer falar sobre " + suggested.Label() +
		"? Se não for isso, me conte com mais detalhes o que você precisa."
}
