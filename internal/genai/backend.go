package genai

import "context"

// request is the provider-neutral shape of one chat completion.
type request struct {
	System      string
	User        string
	Model       string
	JSON        bool
	MaxTokens   int
	Temperature float64
}

type completion struct {
	Content string
	Tokens  int
}

// backend performs one attempt with one credential. Implementations classify
// their errors as *rateLimitError, *SafetyOverrideError or anything else.
type backend interface {
	complete(ctx context.Context, key string, req request) (completion, error)
}
