package extract

import (
	"regexp"
	"strconv"

	"github.com/BTreeMap/FlowPipe/internal/util"
)

// FieldOrder is the order fields are collected and listed in summaries.
var FieldOrder = []string{FieldPersonType, FieldCPFCNPJ, FieldEmail, FieldPhone}

var fieldKeywords = []struct {
	field string
	re    *regexp.Regexp
}{
	{FieldPersonType, regexp.MustCompile(`\b(tipo|pessoa|pf|pj|fisica|juridica)\b`)},
	{FieldCPFCNPJ, regexp.MustCompile(`\b(cpf|cnpj|documento)\b`)},
	{FieldEmail, regexp.MustCompile(`\b(email|e-mail|correio)\b`)},
	{FieldPhone, regexp.MustCompile(`\b(telefone|celular|fone|tel|ddd)\b`)},
}

var leadingNumber = regexp.MustCompile(`^\d+`)

// DetectFieldToCorrect maps "2", "o cpf" or "meu telefone" to the field the
// user wants to change. It returns "" when nothing matches.
func DetectFieldToCorrect(text string) string {
	folded := util.Fold(text)
	if m := leadingNumber.FindString(folded); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n >= 1 && n <= len(FieldOrder) {
			return FieldOrder[n-1]
		}
	}
	for _, k := range fieldKeywords {
		if k.re.MatchString(folded) {
			return k.field
		}
	}
	return ""
}

// PersonTypeLabel renders PF and PJ for humans.
func PersonTypeLabel(pt string) string {
	switch pt {
	case PersonPF:
		return "Pessoa Física"
	case PersonPJ:
		return "Pessoa Jurídica"
	}
	return pt
}

// FormatCPFCNPJ punctuates a document when its length matches the person type.
func FormatCPFCNPJ(digits, personType string) string {
	switch {
	case personType == PersonPF && len(digits) == 11:
		return digits[:3] + "." + digits[3:6] + "." + digits[6:9] + "-" + digits[9:]
	case personType == PersonPJ && len(digits) == 14:
		return digits[:2] + "." + digits[2:5] + "." + digits[5:8] + "/" + digits[8:12] + "-" + digits[12:]
	}
	return digits
}

// FormatPhone renders (xx) xxxxx-xxxx or (xx) xxxx-xxxx.
func FormatPhone(digits string) string {
	switch len(digits) {
	case 11:
		return "(" + digits[:2] + ") " + digits[2:7] + "-" + digits[7:]
	case 10:
		return "(" + digits[:2] + ") " + digits[2:6] + "-" + digits[6:]
	}
	return digits
}
