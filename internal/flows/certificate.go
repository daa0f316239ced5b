package flows

import (
	"context"

	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/models"
)

// Subroutes of the digital certificate flow.
const (
	SubroutePurchase     = "purchase"
	SubrouteRenewal      = "renewal"
	SubrouteSupport      = "support"
	SubrouteRequirements = "requirements"
	SubrouteStatus       = "status"
)

// Steps shared by several subroutes.
const (
	stepAskOrderID    = "ask_order_id"
	stepAskEmail      = "ask_email"
	stepConfirm       = "confirm"
	stepAskProblem    = "ask_problem"
	stepShowInfo      = "show_info"
	stepOfferPurchase = "offer_purchase"
)

// Data keys and minimum lengths for free-text identifiers.
const (
	keyOrderID            = "order_id"
	keyProblem            = "problem"
	keyProblemDescription = "problem_description"
	keyProtocolID         = "protocol_id"
	keyOfferPurchase      = "offer_purchase"

	minOrderIDLen = 3
	minProblemLen = 5
)

const certificateMenu = "Posso te ajudar com certificado digital! Você gostaria de:\n\n" +
	"• *Comprar* um novo certificado\n" +
	"• *Renovar* um certificado existente\n" +
	"• Verificar *status* de um pedido\n" +
	"• Saber os *requisitos* necessários\n" +
	"• *Suporte* técnico\n\n" +
	"Como posso te ajudar?"

func certificateFlow(deps Deps) *flow.Definition {
	p := &purchaseSteps{deps: deps}
	r := &renewalSteps{deps: deps}
	s := &supportSteps{deps: deps}
	q := &requirementsSteps{deps: deps}

	return &flow.Definition{
		ID:      models.FlowDigitalCertificate,
		Version: Version,
		Active:  true,
		Steps: flow.Steps{
			models.StepStart: flow.HandlerFunc(func(context.Context, *flow.Context) (flow.StepResult, error) {
				return flow.StepResult{Reply: certificateMenu, NextStep: models.StepStart}, nil
			}),
		},
		Subroutes: map[string]flow.Subroute{
			SubroutePurchase: {
				Description: "Comprar ou emitir um novo certificado digital (e-CPF ou e-CNPJ)",
				EntryStep:   stepAskPersonType,
				Steps: flow.Steps{
					stepAskPersonType: flow.HandlerFunc(p.askPersonType),
					stepAskCPFCNPJ:    flow.HandlerFunc(p.askCPFCNPJ),
					stepAskEmail:      flow.HandlerFunc(p.askEmail),
					stepAskPhone:      flow.HandlerFunc(p.askPhone),
					stepConfirm:       flow.HandlerFunc(p.confirm),
					stepAskCorrection: flow.HandlerFunc(p.askCorrection),
				},
			},
			SubrouteRenewal: {
				Description: "Renovar um certificado digital que está vencendo ou já venceu",
				EntryStep:   stepAskOrderID,
				Steps: flow.Steps{
					stepAskOrderID: flow.HandlerFunc(r.askOrderID),
					stepAskEmail:   flow.HandlerFunc(r.askEmail),
					stepConfirm:    flow.HandlerFunc(r.confirm),
				},
			},
			SubrouteSupport: {
				Description: "Suporte técnico: problemas para instalar, usar ou emitir o certificado",
				EntryStep:   stepAskProblem,
				Steps: flow.Steps{
					stepAskProblem: flow.HandlerFunc(s.askProblem),
					stepAskOrderID: flow.HandlerFunc(s.askOrderID),
					stepConfirm:    flow.HandlerFunc(s.confirm),
				},
			},
			SubrouteRequirements: {
				Description: "Saber quais documentos e requisitos são necessários para emitir um certificado",
				EntryStep:   stepShowInfo,
				Steps: flow.Steps{
					stepShowInfo:      flow.HandlerFunc(q.showInfo),
					stepOfferPurchase: flow.HandlerFunc(q.offerPurchase),
				},
			},
			SubrouteStatus: {
				Description: "Consultar o status ou andamento de um pedido de certificado",
				EntryStep:   stepAskOrderID,
				Steps: flow.Steps{
					stepAskOrderID: flow.HandlerFunc(orderStatus),
				},
			},
		},
	}
}
