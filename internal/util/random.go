// Package util provides small helpers shared across FlowPipe components.
package util

import (
	"math/rand/v2"
	"strings"
	"time"
)

// GenerateRandomHex generates a random lowercase hexadecimal string of the specified length.
// Uses math/rand/v2; the output is not suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// Protocol prefixes handed to users when a request is registered.
const (
	ProtocolCertificate    = "CD"
	ProtocolGeneralSupport = "GS"
	ProtocolRenewal        = "RN"
	ProtocolSupport        = "SP"
)

// ProtocolID builds a user-facing protocol number such as "CD-20260205-3FA9".
func ProtocolID(prefix string, now time.Time) string {
	return prefix + "-" + now.Format("20060102") + "-" + strings.ToUpper(GenerateRandomHex(4))
}
