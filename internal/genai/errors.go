package genai

import (
	"errors"
	"fmt"
)

var (
	// ErrAllKeysRateLimited wraps the last error when every credential of a provider was rate limited.
	ErrAllKeysRateLimited = errors.New("all API keys are rate limited")
	// ErrProviderNotConfigured is returned for calls to a provider without credentials.
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrUnknownTask rejects routing entries for tasks the gateway does not know.
	ErrUnknownTask = errors.New("unknown llm task")
	// ErrNoChoicesReturned means the backend answered without any content.
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// SafetyOverrideError is a provider refusing to answer for policy reasons.
// Callers must propagate it instead of treating it as an ordinary failure.
type SafetyOverrideError struct {
	Provider         string
	FailedGeneration string
}

func (e *SafetyOverrideError) Error() string {
	return fmt.Sprintf("llm safety override from %s", e.Provider)
}

// IsSafetyOverride reports whether err carries a SafetyOverrideError.
func IsSafetyOverride(err error) bool {
	var so *SafetyOverrideError
	return errors.As(err, &so)
}

// rateLimitError marks a backend error as retryable with the next credential.
type rateLimitError struct {
	err error
}

func (e *rateLimitError) Error() string { return "rate limited: " + e.err.Error() }
func (e *rateLimitError) Unwrap() error { return e.err }

func isRateLimited(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}
