package flows

import (
	"context"

	"github.com/BTreeMap/FlowPipe/internal/extract"
	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/models"
)

const requirementsText = "Aqui estão os requisitos para emissão de certificado digital:\n\n" +
	"*Pessoa Física (e-CPF):*\n" +
	"• Documento de identidade (RG ou CNH)\n" +
	"• CPF\n" +
	"• Comprovante de endereço recente\n\n" +
	"*Pessoa Jurídica (e-CNPJ):*\n" +
	"• Contrato social ou estatuto atualizado\n" +
	"• Cartão CNPJ\n" +
	"• Documento do responsável legal (RG ou CNH)\n" +
	"• Comprovante de endereço da empresa\n\n" +
	"Gostaria de iniciar uma compra de certificado?"

type requirementsSteps struct {
	deps Deps
}

func (q *requirementsSteps) showInfo(context.Context, *flow.Context) (flow.StepResult, error) {
	return flow.StepResult{
		Reply:     requirementsText,
		NextStep:  stepOfferPurchase,
		DataPatch: models.Data{flow.AskedKey(keyOfferPurchase): true},
	}, nil
}

func (q *requirementsSteps) offerPurchase(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	answer, err := q.deps.Extractor.Confirmation(ctx, c.Message.Text)
	if err != nil {
		return flow.StepResult{}, err
	}

	switch answer {
	case extract.AnswerYes:
		return flow.StepResult{
			Reply:    "Ótimo! Envie uma nova mensagem dizendo que gostaria de comprar um certificado e vamos iniciar o processo.",
			NextStep: stepOfferPurchase,
			Done:     true,
		}, nil
	case extract.AnswerNo:
		return flow.StepResult{
			Reply:    "Tudo bem! Se precisar de algo mais, é só enviar uma mensagem. Até logo!",
			NextStep: stepOfferPurchase,
			Done:     true,
		}, nil
	}
	return flow.StepResult{
		Reply:    "Gostaria de iniciar uma compra de certificado? Responda *sim* ou *não*.",
		NextStep: stepOfferPurchase,
	}, nil
}
