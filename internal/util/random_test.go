package util

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomHex(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 4, 4},
		{"large length", 64, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomHex(tt.length)

			if len(got) != tt.want {
				t.Errorf("GenerateRandomHex() length = %v, want %v", len(got), tt.want)
			}

			if tt.want > 0 && !isValidHex(got) {
				t.Errorf("GenerateRandomHex() = %v is not valid hex", got)
			}
		})
	}
}

func TestRandomHexUniqueness(t *testing.T) {
	const iterations = 1000
	seen := make(map[string]bool)

	for i := 0; i < iterations; i++ {
		hex := GenerateRandomHex(16)
		if seen[hex] {
			t.Errorf("GenerateRandomHex() generated duplicate: %v", hex)
		}
		seen[hex] = true
	}
}

func TestProtocolID(t *testing.T) {
	now := time.Date(2026, 2, 5, 23, 59, 0, 0, time.UTC)
	pattern := regexp.MustCompile(`^CD-20260205-[0-9A-F]{4}$`)

	for i := 0; i < 50; i++ {
		got := ProtocolID(ProtocolCertificate, now)
		if !pattern.MatchString(got) {
			t.Fatalf("ProtocolID() = %q, want match %s", got, pattern)
		}
	}

	if got := ProtocolID(ProtocolGeneralSupport, now); !strings.HasPrefix(got, "GS-") {
		t.Errorf("ProtocolID() = %q, want GS- prefix", got)
	}
}

func isValidHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
