package flows

import (
	"context"

	"github.com/BTreeMap/FlowPipe/internal/extract"
	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/util"
)

const renewalAskOrder = "Para renovar seu certificado, preciso do número do pedido ou protocolo anterior."

type renewalSteps struct {
	deps Deps
}

func (r *renewalSteps) askOrderID(_ context.Context, c *flow.Context) (flow.StepResult, error) {
	data := c.Data()
	if !flow.Asked(data, keyOrderID) {
		return flow.Ask(keyOrderID, stepAskOrderID, renewalAskOrder), nil
	}

	text := c.Text()
	if len([]rune(text)) < minOrderIDLen {
		return flow.Retry(data, keyOrderID, stepAskOrderID,
			"O número informado parece muito curto. Por favor, envie o número do pedido ou protocolo."), nil
	}
	return flow.Accept(keyOrderID, text, stepAskEmail, extract.FieldEmail,
		"Pedido registrado! Qual seu email para contato sobre a renovação?"), nil
}

func (r *renewalSteps) askEmail(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	data := c.Data()
	if !flow.Asked(data, extract.FieldEmail) {
		return flow.Ask(extract.FieldEmail, stepAskEmail, "Qual seu email para contato?"), nil
	}

	res, err := r.deps.Extractor.Email(ctx, c.Message.Text)
	if err != nil {
		return flow.StepResult{}, err
	}
	if !res.Found() {
		return flow.Retry(data, extract.FieldEmail, stepAskEmail,
			"Não consegui identificar um email válido. Por favor, envie seu email (ex: nome@empresa.com)."), nil
	}
	if !extract.ValidEmail(res.Value) {
		return flow.Retry(data, extract.FieldEmail, stepAskEmail,
			"O email informado parece inválido. Envie um email válido (ex: nome@empresa.com)."), nil
	}

	form := renewalFormOf(data)
	form.Email = res.Value
	return flow.Accept(extract.FieldEmail, res.Value, stepConfirm, "", form.Summary()), nil
}

func (r *renewalSteps) confirm(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	answer, err := r.deps.Extractor.Confirmation(ctx, c.Message.Text)
	if err != nil {
		return flow.StepResult{}, err
	}

	switch answer {
	case extract.AnswerYes:
		protocol := util.ProtocolID(util.ProtocolRenewal, r.deps.now())
		return flow.StepResult{
			Reply: "Sua solicitação de renovação foi registrada!\n\n" +
				"Protocolo: *" + protocol + "*\n\n" +
				"Nossa equipe analisará seu pedido e entrará em contato pelo email informado. Obrigado!",
			NextStep:  stepConfirm,
			DataPatch: models.Data{keyProtocolID: protocol},
			Done:      true,
		}, nil
	case extract.AnswerNo:
		return flow.StepResult{
			Reply:    "Sem problemas, vamos recomeçar. " + renewalAskOrder,
			NextStep: stepAskOrderID,
			DataPatch: models.Data{
				keyOrderID:                        nil,
				extract.FieldEmail:                nil,
				flow.AskedKey(keyOrderID):         true,
				flow.AskedKey(extract.FieldEmail): false,
			},
		}, nil
	}
	return flow.StepResult{
		Reply:    "Por favor, responda *sim* para confirmar ou *não* para recomeçar.",
		NextStep: stepConfirm,
	}, nil
}
