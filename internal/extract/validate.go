package extract

import (
	"regexp"
	"strings"
)

// Person types.
const (
	PersonPF = "PF"
	PersonPJ = "PJ"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func allSame(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}

func digitsOfLen(s string, lengths ...int) bool {
	if !allDigits.MatchString(s) {
		return false
	}
	for _, n := range lengths {
		if len(s) == n {
			return true
		}
	}
	return false
}

// ValidCPF checks length and rejects repeated digits. Check digits are not verified.
func ValidCPF(digits string) bool {
	return digitsOfLen(digits, 11) && !allSame(digits)
}

// ValidCNPJ checks length and rejects repeated digits.
func ValidCNPJ(digits string) bool {
	return digitsOfLen(digits, 14) && !allSame(digits)
}

// ValidCPFCNPJ validates digits as a CPF for PF and as a CNPJ for PJ.
func ValidCPFCNPJ(digits, personType string) bool {
	if personType == PersonPJ {
		return ValidCNPJ(digits)
	}
	return ValidCPF(digits)
}

// ValidEmail is a syntactic check. Domains shorter than 5 characters are
// usually garbled transcriptions.
func ValidEmail(email string) bool {
	if !emailPattern.MatchString(email) {
		return false
	}
	_, domain, _ := strings.Cut(email, "@")
	return len(domain) >= 5
}

// ValidPhone accepts 10 or 11 digits (DDD included), not all equal.
func ValidPhone(digits string) bool {
	return digitsOfLen(digits, 10, 11) && !allSame(digits)
}

// ExpectedDocLength is 14 for PJ and 11 otherwise.
func ExpectedDocLength(personType string) int {
	if personType == PersonPJ {
		return 14
	}
	return 11
}
