package models

// FlowType identifies a scripted conversation procedure.
type FlowType string

// Flow type constants. FlowUnknown is the catch-all conversational flow.
const (
	FlowDigitalCertificate FlowType = "digital_certificate"
	FlowBilling            FlowType = "billing"
	FlowGeneralSupport     FlowType = "general_support"
	FlowUnknown            FlowType = "unknown"
)

// AllFlowTypes lists every flow type in routing order.
var AllFlowTypes = []FlowType{
	FlowDigitalCertificate,
	FlowBilling,
	FlowGeneralSupport,
	FlowUnknown,
}

// Valid reports whether f is a member of the enumeration.
func (f FlowType) Valid() bool {
	switch f {
	case FlowDigitalCertificate, FlowBilling, FlowGeneralSupport, FlowUnknown:
		return true
	}
	return false
}

func (f FlowType) String() string { return string(f) }

// Label is the Portuguese topic name shown to users.
func (f FlowType) Label() string {
	switch f {
	case FlowDigitalCertificate:
		return "certificado digital"
	case FlowBilling:
		return "faturamento"
	case FlowGeneralSupport:
		return "suporte geral"
	default:
		return "atendimento"
	}
}

// Confidence thresholds shared by every classifier.
const (
	ConfidenceAccept  = 0.8
	ConfidenceClarify = 0.6
)

// Band is the gating decision derived from a confidence score.
type Band string

const (
	BandAccept  Band = "accept"
	BandClarify Band = "clarify"
	BandReject  Band = "reject"
)

// BandOf maps a confidence to its band. Both thresholds are inclusive.
func BandOf(confidence float64) Band {
	switch {
	case confidence >= ConfidenceAccept:
		return BandAccept
	case confidence >= ConfidenceClarify:
		return BandClarify
	default:
		return BandReject
	}
}

// ClassificationResult is the Global Router output.
type ClassificationResult struct {
	Flow       FlowType `json:"flow"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
}
