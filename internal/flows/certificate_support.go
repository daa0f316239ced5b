package flows

import (
	"context"
	"regexp"
	"strings"

	"github.com/BTreeMap/FlowPipe/internal/extract"
	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/util"
)

const supportAskProblem = "Por favor, descreva o problema que está enfrentando."

var skipOrderID = regexp.MustCompile(`(?i)^(não|nao|n|no|nope|nenhum|não tenho|nao tenho)$`)

type supportSteps struct {
	deps Deps
}

func (s *supportSteps) askProblem(_ context.Context, c *flow.Context) (flow.StepResult, error) {
	data := c.Data()
	if !flow.Asked(data, keyProblem) {
		return flow.Ask(keyProblem, stepAskProblem, "Entendi que você precisa de suporte técnico. "+supportAskProblem), nil
	}

	text := c.Text()
	if len([]rune(text)) < minProblemLen {
		return flow.Retry(data, keyProblem, stepAskProblem,
			"Poderia descrever o problema com mais detalhes para que possamos te ajudar melhor?"), nil
	}

	return flow.StepResult{
		Reply:    "Obrigado pela descrição. Você tem um número de pedido ou protocolo relacionado? Se não tiver, responda *não*.",
		NextStep: stepAskOrderID,
		DataPatch: models.Data{
			keyProblemDescription:     text,
			flow.AskedKey(keyProblem): false,
			flow.RetryKey(keyProblem): 0,
			flow.AskedKey(keyOrderID): true,
		},
	}, nil
}

// askOrderID accepts any identifier or an explicit "no". It never hands off.
func (s *supportSteps) askOrderID(_ context.Context, c *flow.Context) (flow.StepResult, error) {
	data := c.Data()
	if !flow.Asked(data, keyOrderID) {
		return flow.Ask(keyOrderID, stepAskOrderID, "Você tem um número de pedido ou protocolo? Se não tiver, responda *não*."), nil
	}

	text := strings.ToLower(c.Text())
	ticket := supportTicketOf(data)
	if skipOrderID.MatchString(text) {
		ticket.OrderID = ""
		return flow.StepResult{
			Reply:     ticket.Summary(),
			NextStep:  stepConfirm,
			DataPatch: models.Data{keyOrderID: nil, flow.AskedKey(keyOrderID): false},
		}, nil
	}
	if len([]rune(text)) < minOrderIDLen {
		return flow.StepResult{
			Reply:    "O número informado parece muito curto. Envie o número do pedido ou responda *não* se não tiver.",
			NextStep: stepAskOrderID,
		}, nil
	}

	ticket.OrderID = c.Text()
	return flow.StepResult{
		Reply:     ticket.Summary(),
		NextStep:  stepConfirm,
		DataPatch: models.Data{keyOrderID: ticket.OrderID, flow.AskedKey(keyOrderID): false},
	}, nil
}

func (s *supportSteps) confirm(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	answer, err := s.deps.Extractor.Confirmation(ctx, c.Message.Text)
	if err != nil {
		return flow.StepResult{}, err
	}

	switch answer {
	case extract.AnswerYes:
		protocol := util.ProtocolID(util.ProtocolSupport, s.deps.now())
		return flow.StepResult{
			Reply: "Seu chamado de suporte foi aberto com sucesso!\n\n" +
				"Protocolo: *" + protocol + "*\n\n" +
				"Um técnico entrará em contato em breve para te ajudar. Obrigado pela paciência!",
			NextStep:  stepConfirm,
			DataPatch: models.Data{keyProtocolID: protocol},
			Done:      true,
		}, nil
	case extract.AnswerNo:
		return flow.StepResult{
			Reply:    "Sem problemas, vamos recomeçar. " + supportAskProblem,
			NextStep: stepAskProblem,
			DataPatch: models.Data{
				keyProblemDescription:     nil,
				keyOrderID:                nil,
				flow.AskedKey(keyProblem): true,
				flow.AskedKey(keyOrderID): false,
			},
		}, nil
	}
	return flow.StepResult{Reply: "Desculpe, não entendi. Os dados estão corretos?", NextStep: stepConfirm}, nil
}
