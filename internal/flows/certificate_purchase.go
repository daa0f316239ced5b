package flows

import (
	"context"

	"github.com/BTreeMap/FlowPipe/internal/extract"
	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/util"
)

const (
	stepAskPersonType = "ask_person_type"
	stepAskCPFCNPJ    = "ask_cpf_cnpj"
	stepAskPhone      = "ask_phone"
	stepAskCorrection = "ask_correction"
)

// askStep is the step that collects field.
func askStep(field string) string { return "ask_" + field }

const correctionMenu = "Sem problemas! Qual dado você gostaria de corrigir?\n\n" +
	"1. Tipo de pessoa (PF/PJ)\n" +
	"2. CPF/CNPJ\n" +
	"3. Email\n" +
	"4. Telefone\n\n" +
	"Envie o número ou o nome do campo."

var reaskForCorrection = map[string]string{
	extract.FieldPersonType: "Certo! Você é pessoa física (PF) ou pessoa jurídica (PJ)?",
	extract.FieldCPFCNPJ:    "Certo! Envie o CPF ou CNPJ correto (somente números).",
	extract.FieldEmail:      "Certo! Envie o email correto.",
	extract.FieldPhone:      "Certo! Envie o telefone correto com DDD (somente números).",
}

type purchaseSteps struct {
	deps Deps
}

// accept stores value and either continues the sequence or, while a single
// field is being corrected, returns straight to the confirmation.
func (p *purchaseSteps) accept(data models.Data, field, value, next, nextField, reply string) flow.StepResult {
	if flow.Correcting(data) || next == stepConfirm {
		res := flow.Accept(field, value, stepConfirm, "", purchaseFormOf(data.Merge(models.Data{field: value})).Summary())
		res.DataPatch[flow.KeyCorrecting] = false
		return res
	}
	return flow.Accept(field, value, next, nextField, reply)
}

func (p *purchaseSteps) askPersonType(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	data := c.Data()
	if !flow.Asked(data, extract.FieldPersonType) {
		return flow.Ask(extract.FieldPersonType, stepAskPersonType, "Você é pessoa física (PF) ou pessoa jurídica (PJ)?"), nil
	}

	r, err := p.deps.Extractor.PersonType(ctx, c.Message.Text)
	if err != nil {
		return flow.StepResult{}, err
	}
	if !r.Found() {
		return flow.Retry(data, extract.FieldPersonType, stepAskPersonType,
			"Não consegui identificar. Você é *pessoa física (PF)* ou *pessoa jurídica (PJ)*?"), nil
	}

	reply := "Certo, pessoa física! Agora preciso do seu CPF."
	if r.Value == extract.PersonPJ {
		reply = "Certo, pessoa jurídica! Agora preciso do seu CNPJ."
	}
	// a corrected person type invalidates a document of the other kind; the
	// correcting flag stays set so the new document returns to confirm
	if doc := data.String(extract.FieldCPFCNPJ); flow.Correcting(data) && doc != "" && !extract.ValidCPFCNPJ(doc, r.Value) {
		res := flow.Accept(extract.FieldPersonType, r.Value, stepAskCPFCNPJ, extract.FieldCPFCNPJ, reply)
		res.DataPatch[extract.FieldCPFCNPJ] = nil
		res.DataPatch[flow.RetryKey(extract.FieldCPFCNPJ)] = 0
		return res, nil
	}
	return p.accept(data, extract.FieldPersonType, r.Value, stepAskCPFCNPJ, extract.FieldCPFCNPJ, reply), nil
}

func (p *purchaseSteps) askCPFCNPJ(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	data := c.Data()
	form := purchaseFormOf(data)
	personType := form.PersonType
	if personType == "" {
		personType = extract.PersonPF
	}
	label := form.docLabel()

	if !flow.Asked(data, extract.FieldCPFCNPJ) {
		return flow.Ask(extract.FieldCPFCNPJ, stepAskCPFCNPJ, "Por favor, envie seu "+label+" (somente números)."), nil
	}

	r, err := p.deps.Extractor.CPFCNPJ(ctx, c.Message.Text, personType)
	if err != nil {
		return flow.StepResult{}, err
	}
	if !r.Found() {
		return flow.Retry(data, extract.FieldCPFCNPJ, stepAskCPFCNPJ,
			"Não consegui identificar um "+label+" válido. Por favor, envie somente os números do seu "+label+"."), nil
	}
	if !extract.ValidCPFCNPJ(r.Value, personType) {
		return flow.Retry(data, extract.FieldCPFCNPJ, stepAskCPFCNPJ,
			"O "+label+" informado parece inválido. Verifique e envie novamente (somente números)."), nil
	}

	return p.accept(data, extract.FieldCPFCNPJ, r.Value, stepAskEmail, extract.FieldEmail,
		label+" registrado! Qual seu melhor email para contato?"), nil
}

func (p *purchaseSteps) askEmail(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	data := c.Data()
	if !flow.Asked(data, extract.FieldEmail) {
		return flow.Ask(extract.FieldEmail, stepAskEmail, "Qual seu melhor email para contato?"), nil
	}

	r, err := p.deps.Extractor.Email(ctx, c.Message.Text)
	if err != nil {
		return flow.StepResult{}, err
	}
	if !r.Found() {
		return flow.Retry(data, extract.FieldEmail, stepAskEmail,
			"Não consegui identificar um email válido. Por favor, envie seu email (ex: nome@empresa.com)."), nil
	}
	if !extract.ValidEmail(r.Value) {
		return flow.Retry(data, extract.FieldEmail, stepAskEmail,
			"O email informado parece inválido. Por favor, envie um email válido (ex: nome@empresa.com)."), nil
	}

	return p.accept(data, extract.FieldEmail, r.Value, stepAskPhone, extract.FieldPhone,
		"Email registrado! Agora, qual seu telefone com DDD? (ex: 11999998888)"), nil
}

func (p *purchaseSteps) askPhone(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	data := c.Data()
	if !flow.Asked(data, extract.FieldPhone) {
		return flow.Ask(extract.FieldPhone, stepAskPhone, "Qual seu telefone com DDD? (ex: 11999998888)"), nil
	}

	r, err := p.deps.Extractor.Phone(ctx, c.Message.Text)
	if err != nil {
		return flow.StepResult{}, err
	}
	if !r.Found() {
		return flow.Retry(data, extract.FieldPhone, stepAskPhone,
			"Não consegui identificar o telefone. Envie somente números com DDD (ex: 11999998888)."), nil
	}
	if !extract.ValidPhone(r.Value) {
		return flow.Retry(data, extract.FieldPhone, stepAskPhone,
			"O telefone informado parece inválido. Envie com DDD, somente números (10 ou 11 dígitos)."), nil
	}

	return p.accept(data, extract.FieldPhone, r.Value, stepConfirm, "", ""), nil
}

func (p *purchaseSteps) confirm(ctx context.Context, c *flow.Context) (flow.StepResult, error) {
	answer, err := p.deps.Extractor.Confirmation(ctx, c.Message.Text)
	if err != nil {
		return flow.StepResult{}, err
	}

	switch answer {
	case extract.AnswerYes:
		protocol := util.ProtocolID(util.ProtocolCertificate, p.deps.now())
		return flow.StepResult{
			Reply: "Perfeito! Seu pedido de certificado digital foi registrado com sucesso.\n\n" +
				"Protocolo: *" + protocol + "*\n\n" +
				"Em breve nossa equipe entrará em contato pelo email e telefone informados. Obrigado!",
			NextStep:  stepConfirm,
			DataPatch: models.Data{keyProtocolID: protocol},
			Done:      true,
		}, nil
	case extract.AnswerNo:
		return flow.StepResult{Reply: correctionMenu, NextStep: stepAskCorrection}, nil
	}
	return flow.StepResult{
		Reply:    "Por favor, responda *sim* para confirmar ou *não* para corrigir algum dado.",
		NextStep: stepConfirm,
	}, nil
}

func (p *purchaseSteps) askCorrection(_ context.Context, c *flow.Context) (flow.StepResult, error) {
	field := extract.DetectFieldToCorrect(c.Message.Text)
	if field == "" {
		return flow.StepResult{
			Reply:    "Não identifiquei o campo. Por favor, envie o número:\n\n1. Tipo de pessoa\n2. CPF/CNPJ\n3. Email\n4. Telefone",
			NextStep: stepAskCorrection,
		}, nil
	}

	return flow.StepResult{
		Reply:    reaskForCorrection[field],
		NextStep: askStep(field),
		DataPatch: models.Data{
			field:                nil,
			flow.AskedKey(field): true,
			flow.KeyCorrecting:   true,
			flow.RetryKey(field): 0,
		},
	}, nil
}
