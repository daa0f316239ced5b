package extract

import (
	"regexp"
	"strings"
)

var wordToDigit = map[string]string{
	"zero":   "0",
	"um":     "1",
	"uma":    "1",
	"dois":   "2",
	"duas":   "2",
	"três":   "3",
	"tres":   "3",
	"quatro": "4",
	"cinco":  "5",
	"quina":  "5",
	"seis":   "6",
	"meia":   "6",
	"sete":   "7",
	"oito":   "8",
	"nove":   "9",
}

var (
	tokenSep  = regexp.MustCompile(`[\s,.\-]+`)
	nonDigit  = regexp.MustCompile(`\D`)
	allDigits = regexp.MustCompile(`^\d+$`)
)

// SpokenToDigits replaces Portuguese digit words with digits, so
// "meia nove oito" becomes "6 9 8". Other tokens are kept.
func SpokenToDigits(text string) string {
	tokens := tokenSep.Split(strings.ToLower(text), -1)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if allDigits.MatchString(tok) {
			out = append(out, tok)
			continue
		}
		if d, ok := wordToDigit[tok]; ok {
			out = append(out, d)
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// ExtractDigits returns only the digits of text after converting spoken numbers.
func ExtractDigits(text string) string {
	return nonDigit.ReplaceAllString(SpokenToDigits(text), "")
}

var (
	spokenEmailWords = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`(?i)\barroba\b`), "@"},
		{regexp.MustCompile(`(?i)\bponto\b`), "."},
		{regexp.MustCompile(`(?i)\b(underline|underscore)\b`), "_"},
		{regexp.MustCompile(`(?i)\b(h[ií]fen|tra[cç]o|tracinho)\b`), "-"},
	}
	spacedSymbol = regexp.MustCompile(`\s*([@._\-])\s*`)
)

// NormalizeSpokenEmail rewrites dictated addresses ("joao arroba gmail ponto
// com") into written form ("joao@gmail.com").
func NormalizeSpokenEmail(text string) string {
	out := strings.ToLower(strings.TrimSpace(text))
	for _, w := range spokenEmailWords {
		out = w.re.ReplaceAllString(out, w.repl)
	}
	return spacedSymbol.ReplaceAllString(out, "$1")
}
