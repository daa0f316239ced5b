package flows

import (
	"context"
	"fmt"

	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/models"
)

// lastDigit returns the numeric value of the last character of id, or -1.
func lastDigit(id string) int {
	if id == "" {
		return -1
	}
	ch := id[len(id)-1]
	if ch < '0' || ch > '9' {
		return -1
	}
	return int(ch - '0')
}

type orderState struct {
	Status string
	Detail string
}

// mockOrderStatus stands in for the order backend, keyed on the last digit.
func mockOrderStatus(orderID string) orderState {
	d := lastDigit(orderID)
	switch {
	case d < 0 || d <= 3:
		return orderState{"Em processamento", "Seu pedido está sendo analisado pela equipe. Previsão: 2 dias úteis."}
	case d <= 6:
		return orderState{"Aguardando validação", "Estamos aguardando a validação dos seus documentos. Você receberá um email com instruções."}
	}
	return orderState{"Concluído", "Seu certificado já foi emitido! Verifique seu email para instruções de instalação."}
}

// orderStatus is the single step of the certificate status subroute.
func orderStatus(_ context.Context, c *flow.Context) (flow.StepResult, error) {
	data := c.Data()
	if !flow.Asked(data, keyOrderID) {
		return flow.Ask(keyOrderID, stepAskOrderID, "Para consultar o status, preciso do número do seu pedido ou protocolo."), nil
	}

	text := c.Text()
	if len([]rune(text)) < minOrderIDLen {
		return flow.Retry(data, keyOrderID, stepAskOrderID,
			"O número informado parece muito curto. Por favor, envie o número completo do pedido ou protocolo."), nil
	}

	st := mockOrderStatus(text)
	return flow.StepResult{
		Reply: fmt.Sprintf("Encontrei seu pedido *%s*:\n\n*Status:* %s\n%s\n\n%s",
			text, st.Status, st.Detail, closingLine),
		NextStep:  stepAskOrderID,
		DataPatch: models.Data{keyOrderID: text, flow.AskedKey(keyOrderID): false},
		Done:      true,
	}, nil
}

type invoiceState struct {
	Status string
	Value  string
	Detail string
}

// mockInvoiceStatus stands in for the billing backend. Non-digit endings
// count as overdue.
func mockInvoiceStatus(invoiceID string) invoiceState {
	d := lastDigit(invoiceID)
	switch {
	case d >= 0 && d <= 3:
		return invoiceState{"Pago", "R$ 350,00", "💳 Pagamento confirmado em 05/02/2026"}
	case d >= 0 && d <= 6:
		return invoiceState{"Pendente", "R$ 450,00",
			"📅 Vencimento: 20/02/2026\n\n" +
				"Para efetuar o pagamento, utilize o boleto enviado por email ou entre em contato com nosso financeiro."}
	}
	return invoiceState{"Vencido", "R$ 280,00",
		"⚠️ Esta fatura está vencida. Entre em contato com nosso financeiro para negociar o pagamento."}
}

func (i invoiceState) format(invoiceID string) string {
	return fmt.Sprintf("Fatura *#%s*:\n\n📊 *Status:* %s\n💰 *Valor:* %s\n%s", invoiceID, i.Status, i.Value, i.Detail)
}
