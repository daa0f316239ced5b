package flows

import (
	"context"

	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/models"
)

// SubrouteInvoiceStatus is the billing flow's invoice lookup.
const SubrouteInvoiceStatus = "status"

const (
	stepAskInvoiceID = "ask_invoice_id"
	keyInvoiceID     = "invoice_id"
)

func billingFlow() *flow.Definition {
	return &flow.Definition{
		ID:      models.FlowBilling,
		Version: Version,
		Active:  true,
		Steps: flow.Steps{
			models.StepStart: flow.HandlerFunc(func(context.Context, *flow.Context) (flow.StepResult, error) {
				return flow.StepResult{
					Reply: "Entendi que você precisa de ajuda com faturamento! " +
						"Em breve vou te guiar pelo processo. Por enquanto, aguarde que estamos implementando o fluxo completo.",
					NextStep: models.StepStart,
					Done:     true,
				}, nil
			}),
		},
		Subroutes: map[string]flow.Subroute{
			SubrouteInvoiceStatus: {
				Description: "Consultar status, valor ou vencimento de uma fatura, boleto ou nota fiscal",
				EntryStep:   stepAskInvoiceID,
				Steps:       flow.Steps{stepAskInvoiceID: flow.HandlerFunc(invoiceStatus)},
			},
		},
	}
}

func invoiceStatus(_ context.Context, c *flow.Context) (flow.StepResult, error) {
	data := c.Data()
	if !flow.Asked(data, keyInvoiceID) {
		return flow.Ask(keyInvoiceID, stepAskInvoiceID,
			"Para consultar sua fatura, preciso do número da nota fiscal ou do pedido.\n\nPode me enviar?"), nil
	}

	text := c.Text()
	if len([]rune(text)) < minOrderIDLen {
		return flow.Retry(data, keyInvoiceID, stepAskInvoiceID,
			"O número informado parece muito curto. Por favor, envie o número completo da nota fiscal ou pedido."), nil
	}

	return flow.StepResult{
		Reply:     mockInvoiceStatus(text).format(text) + "\n\n" + closingLine,
		NextStep:  stepAskInvoiceID,
		DataPatch: models.Data{keyInvoiceID: text, flow.AskedKey(keyInvoiceID): false},
		Done:      true,
	}, nil
}
