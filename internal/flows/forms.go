package flows

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/FlowPipe/internal/extract"
	"github.com/BTreeMap/FlowPipe/internal/models"
)

const missingValue = "—"

// purchaseForm is the purchase subroute's view of the session data.
type purchaseForm struct {
	PersonType string
	CPFCNPJ    string
	Email      string
	Phone      string
}

func purchaseFormOf(d models.Data) purchaseForm {
	return purchaseForm{
		PersonType: d.String(extract.FieldPersonType),
		CPFCNPJ:    d.String(extract.FieldCPFCNPJ),
		Email:      d.String(extract.FieldEmail),
		Phone:      d.String(extract.FieldPhone),
	}
}

// docLabel is CNPJ for companies and CPF otherwise.
func (f purchaseForm) docLabel() string {
	if f.PersonType == extract.PersonPJ {
		return "CNPJ"
	}
	return "CPF"
}

func orMissing(s string) string {
	if s == "" {
		return missingValue
	}
	return s
}

func (f purchaseForm) Summary() string {
	var b strings.Builder
	b.WriteString("Confira seus dados:\n\n")
	fmt.Fprintf(&b, "1. Tipo: %s\n", orMissing(extract.PersonTypeLabel(f.PersonType)))
	fmt.Fprintf(&b, "2. %s: %s\n", f.docLabel(), orMissing(extract.FormatCPFCNPJ(f.CPFCNPJ, f.PersonType)))
	fmt.Fprintf(&b, "3. Email: %s\n", orMissing(f.Email))
	fmt.Fprintf(&b, "4. Telefone: %s\n", orMissing(extract.FormatPhone(f.Phone)))
	b.WriteString("\nEstá tudo correto?")
	return b.String()
}

// renewalForm is the renewal subroute's view of the session data.
type renewalForm struct {
	OrderID string
	Email   string
}

func renewalFormOf(d models.Data) renewalForm {
	return renewalForm{OrderID: d.String(keyOrderID), Email: d.String(extract.FieldEmail)}
}

func (f renewalForm) Summary() string {
	return fmt.Sprintf("Confira seus dados de renovação:\n\n• Pedido: %s\n• Email: %s\n\nEstá tudo correto?",
		orMissing(f.OrderID), orMissing(f.Email))
}

// supportTicket is the support subroute's view of the session data.
type supportTicket struct {
	Problem string
	OrderID string
}

func supportTicketOf(d models.Data) supportTicket {
	return supportTicket{Problem: d.String(keyProblemDescription), OrderID: d.String(keyOrderID)}
}

func (t supportTicket) Summary() string {
	order := t.OrderID
	if order == "" {
		order = "não informado"
	}
	return fmt.Sprintf("Confira os dados do seu chamado:\n\n• Problema: %s\n• Pedido: %s\n\nEstá tudo correto?",
		orMissing(t.Problem), order)
}
